// Package redisstore implements the token store and order repository on
// Redis via go-redis.
//
// Token writes and consumes run as Lua scripts so each is a single atomic
// step on the server. Token keys expire on their own Retention after
// expires_at; Sweep exists for callers that want a bounded cleanup.
package redisstore
