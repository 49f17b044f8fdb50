package natsx

import "strings"

// Subject 把 STOMP 风格地址映射到 NATS subject。
//
//	/user/queue/message -> <prefix>.user.<username>.queue.message
//	/topic/group/devs   -> <prefix>.topic.group.devs
//	/app/private-chat   -> <prefix>.app.private-chat
//
// "/user/" 目的地由 broker 按用户投递，NATS 下需要把用户名放进 subject。
func Subject(prefix, username, destination string) string {
	parts := strings.Split(strings.Trim(destination, "/"), "/")
	tokens := make([]string, 0, len(parts)+2)
	if prefix != "" {
		tokens = append(tokens, prefix)
	}
	for i, p := range parts {
		if p == "" {
			continue
		}
		tokens = append(tokens, token(p))
		if i == 0 && p == "user" {
			tokens = append(tokens, token(username))
		}
	}
	return strings.Join(tokens, ".")
}

var tokenReplacer = strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_", "\t", "_")

// token subject 里 . * > 和空白有特殊含义
func token(s string) string {
	if s == "" {
		return "_"
	}
	return tokenReplacer.Replace(s)
}
