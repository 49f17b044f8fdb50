package security

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Options 控制签名与TTL等参数（客户端只在测试/模拟 broker 时签发）。
type Options struct {
	Secret []byte        // HMAC 密钥
	Alg    string        // HS256/HS384/HS512（默认 HS256）
	TTL    time.Duration // 令牌有效期（默认 2h）
}

func DefaultOptions(secret []byte) Options {
	return Options{Secret: secret, Alg: "HS256", TTL: 2 * time.Hour}
}

// Identity 从 bearer token 里读出的用户身份
type Identity struct {
	Username  string
	ExpiresAt time.Time
}

// HashToken 日志里只打 hash，不打原文
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "sha256:" + hex.EncodeToString(sum[:])[:16]
}

// Generate 签发 token，sub 与 username 两个 claim 都写
func Generate(opts Options, username string) (string, error) {
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return "", err
	}
	if opts.TTL <= 0 {
		opts.TTL = 2 * time.Hour
	}
	now := time.Now()
	claims := jwtlib.MapClaims{
		"sub":      username,
		"username": username,
		"iat":      now.Unix(),
		"nbf":      now.Unix(),
		"exp":      now.Add(opts.TTL).Unix(),
	}
	return jwtlib.NewWithClaims(method, claims).SignedString(opts.Secret)
}

// Verify 校验签名（模拟 broker 用）
func Verify(opts Options, token string) (Identity, error) {
	if _, err := signingMethod(opts.Alg); err != nil {
		return Identity{}, err
	}
	parsed, err := jwtlib.Parse(token, func(t *jwtlib.Token) (interface{}, error) {
		// 仅允许 HMAC 家族
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected alg: %v", t.Header["alg"])
		}
		return opts.Secret, nil
	})
	if err != nil {
		return Identity{}, err
	}
	if !parsed.Valid {
		return Identity{}, errors.New("invalid token")
	}
	return identityFrom(parsed)
}

// ParseIdentity 客户端没有密钥，只解析不验签；验签是服务端的事
func ParseIdentity(token string) (Identity, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return Identity{}, errors.New("empty token")
	}
	parsed, _, err := jwtlib.NewParser().ParseUnverified(token, jwtlib.MapClaims{})
	if err != nil {
		return Identity{}, err
	}
	return identityFrom(parsed)
}

func identityFrom(tok *jwtlib.Token) (Identity, error) {
	claims, ok := tok.Claims.(jwtlib.MapClaims)
	if !ok {
		return Identity{}, errors.New("claims type mismatch")
	}
	var id Identity
	if u, ok := claims["username"].(string); ok && u != "" {
		id.Username = u
	} else if sub, err := claims.GetSubject(); err == nil {
		id.Username = sub
	}
	if id.Username == "" {
		return Identity{}, errors.New("token carries no username/sub claim")
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		id.ExpiresAt = exp.Time
	}
	return id, nil
}

func signingMethod(alg string) (jwtlib.SigningMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case "", "HS256":
		return jwtlib.SigningMethodHS256, nil
	case "HS384":
		return jwtlib.SigningMethodHS384, nil
	case "HS512":
		return jwtlib.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("unsupported alg: %s (use HS256/HS384/HS512)", alg)
	}
}
