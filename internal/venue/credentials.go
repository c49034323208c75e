package venue

import (
	"fmt"
	"os"
	"strings"
)

// EnvCredentialResolver 从环境变量读取 {PREFIX}_API_KEY_{ACCOUNT} / {PREFIX}_SECRET_KEY_{ACCOUNT}
type EnvCredentialResolver struct {
	prefix   string
	lookupFn func(string) (string, bool)
}

func NewEnvCredentialResolver(prefix string) *EnvCredentialResolver {
	if prefix == "" {
		prefix = "BINANCE"
	}
	return &EnvCredentialResolver{prefix: strings.ToUpper(prefix), lookupFn: os.LookupEnv}
}

// envSuffix 账户 id 中的非字母数字字符替换为下划线
func envSuffix(accountID string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(accountID) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func (r *EnvCredentialResolver) Resolve(accountID string) (Credentials, error) {
	suffix := envSuffix(accountID)
	key, ok1 := r.lookupFn(r.prefix + "_API_KEY_" + suffix)
	secret, ok2 := r.lookupFn(r.prefix + "_SECRET_KEY_" + suffix)
	if !ok1 || !ok2 || strings.TrimSpace(key) == "" || strings.TrimSpace(secret) == "" {
		return Credentials{}, fmt.Errorf("%w: account %s", ErrCredentialsNotFound, accountID)
	}
	return Credentials{APIKey: key, SecretKey: secret}, nil
}
