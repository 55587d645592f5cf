package redis

const (
	luaAssignAndPersist = `
		-- Atomically assign the next change id and index the change
		-- KEYS[1] = sequence key
		-- KEYS[2] = change hash key
		-- KEYS[3] = id index key
		-- KEYS[4] = branch hash key
		-- KEYS[5] = branch index key for this change's branch
		-- ARGV[1] = change data (JSON)
		-- ARGV[2] = branch
		-- Returns: the assigned id

		local id = redis.call('INCR', KEYS[1])
		local field = tostring(id)
		redis.call('HSET', KEYS[2], field, ARGV[1])
		redis.call('ZADD', KEYS[3], id, field)
		redis.call('HSET', KEYS[4], field, ARGV[2])
		redis.call('ZADD', KEYS[5], id, field)
		return id
		`

	luaDeleteChange = `
		-- Atomically remove a change and its index entries
		-- KEYS[1] = change hash key
		-- KEYS[2] = id index key
		-- KEYS[3] = branch hash key
		-- KEYS[4] = branch index key for the change's branch
		-- ARGV[1] = change id
		-- ARGV[2] = branch the caller read for the change
		-- Returns: 1 if the change was removed, 0 otherwise

		local branch = redis.call('HGET', KEYS[3], ARGV[1])
		if branch ~= ARGV[2] then
			return 0
		end
		local removed = redis.call('HDEL', KEYS[1], ARGV[1])
		redis.call('ZREM', KEYS[2], ARGV[1])
		redis.call('HDEL', KEYS[3], ARGV[1])
		redis.call('ZREM', KEYS[4], ARGV[1])
		return removed
		`
)
