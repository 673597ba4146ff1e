package redis

import "strconv"

// All keys are prefixed with "courier:" to avoid collisions.
const keyPrefix = "courier:"

// lockKey returns the key of an advisory lock: courier:lock:{id}
func lockKey(prefix string, id int64) string {
	return prefix + "lock:" + strconv.FormatInt(id, 10)
}
