package config

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Signaling struct{}

var _ SignalingConfig = Signaling{}

var (
	instanceOnce sync.Once
	instanceID   string
)

// GetInstanceID identifies this relay process in shared presence stores.
// Without INSTANCE_ID a random id is generated once per process.
func (Signaling) GetInstanceID() string {
	instanceOnce.Do(func() {
		instanceID = GetEnv("INSTANCE_ID", uuid.NewString())
	})
	return instanceID
}

func (Signaling) GetSendQueueSize() int {
	return GetEnvInt("SEND_QUEUE_SIZE", 64)
}

func (Signaling) GetPingInterval() time.Duration {
	return GetEnvDuration("PING_INTERVAL", 30*time.Second)
}

func (Signaling) GetWriteTimeout() time.Duration {
	return GetEnvDuration("WRITE_TIMEOUT", 10*time.Second)
}

func (Signaling) GetMaxMessageBytes() int64 {
	return int64(GetEnvInt("MAX_MESSAGE_BYTES", 64*1024))
}

func (Signaling) GetMembershipCacheTTL() time.Duration {
	return GetEnvDuration("MEMBERSHIP_CACHE_TTL", 30*time.Second)
}

// GetEndCallsOnDisconnect enables ending a user's open calls when their
// connection goes away.
func (Signaling) GetEndCallsOnDisconnect() bool {
	return GetEnvBool("END_CALLS_ON_DISCONNECT", false)
}
