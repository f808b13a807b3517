package redis

import "fmt"

const prefix = "medsupply"

// OrderRateLimitKey 下单限流键，按用户（或降级为 IP）区分。
func OrderRateLimitKey(subject string) string {
	return fmt.Sprintf("%s:rate_limit:order:%s", prefix, subject)
}

// SchedulerLockKey 多副本部署时，同一时刻只允许一个实例扫描待处理订单。
func SchedulerLockKey(name string) string {
	return fmt.Sprintf("%s:scheduler:lock:%s", prefix, name)
}

// EventStreamKey 实时事件 outbox 使用的 Stream 名。
func EventStreamKey(name string) string {
	return fmt.Sprintf("%s:%s", prefix, name)
}
