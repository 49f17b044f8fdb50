package natsx

import "github.com/google/uuid"

// genMsgID Nats-Msg-Id，接收端幂等中间件用它去重
func genMsgID() string {
	return uuid.NewString()
}
