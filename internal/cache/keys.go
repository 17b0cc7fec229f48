package cache

import "fmt"

const keyPrefix = "autolister"

func RateLimitKey(apiKeyPrefix string) string {
	return fmt.Sprintf("%s:ratelimit:%s", keyPrefix, apiKeyPrefix)
}

func SchedulerHeartbeatKey() string {
	return keyPrefix + ":scheduler:heartbeat"
}

func ScheduledJobClaimKey(id int64) string {
	return fmt.Sprintf("%s:scheduler:claim:%d", keyPrefix, id)
}

func UploadStatsKey(days int) string {
	return fmt.Sprintf("%s:stats:uploads:%d", keyPrefix, days)
}

func ScheduleStatsKey() string {
	return keyPrefix + ":stats:schedules"
}
