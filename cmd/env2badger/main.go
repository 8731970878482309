// env2badger 把 .env 里的密钥导入加密 secret store，导入后即可从 .env 删除明文。
//
// 识别的变量：
//
//	MNEMONIC                      → mnemonic
//	WEB3MT_MASTER_KEY             → vault/key
//	<EX>_API_KEY/_SECRET/_PASSPHRASE → cex/<ex>/api_key|secret|passphrase
//	其它                           → env/<NAME>
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"

	"github.com/web3mt/web3mt/pkg/cex/exchanges"
	"github.com/web3mt/web3mt/pkg/secretstore"
)

func main() {
	var (
		inPath    = flag.String("in", ".env", "input .env file path")
		dbPath    = flag.String("badger", getenv("WEB3MT_SECRETS_PATH", "data/secrets"), "badger secrets db path")
		secretKey = flag.String("secret-key", getenv("WEB3MT_SECRET_KEY", ""), "badger encryption key (32 bytes base64/hex)")
		skip      = flag.String("skip", "WEB3MT_SECRET_KEY", "comma separated variables to leave out")
		dryRun    = flag.Bool("dry-run", false, "print mapping only")
	)
	flag.Parse()

	kv, err := godotenv.Read(*inPath)
	if err != nil {
		fatal(err)
	}
	mapping := mapKeys(kv, strings.Split(*skip, ","))
	if *dryRun {
		for _, k := range sortedKeys(mapping) {
			fmt.Printf("%s → %s\n", k, mapping[k])
		}
		return
	}

	keyBytes, err := secretstore.ParseKey(*secretKey)
	if err != nil {
		fatal(err)
	}
	if keyBytes == nil {
		fatal(fmt.Errorf("secret key is required: set WEB3MT_SECRET_KEY or pass -secret-key"))
	}
	ss, err := secretstore.Open(secretstore.OpenOptions{Path: *dbPath, EncryptionKey: keyBytes})
	if err != nil {
		fatal(err)
	}
	defer ss.Close()

	for _, k := range sortedKeys(mapping) {
		if err := ss.SetString(mapping[k], kv[k]); err != nil {
			fatal(err)
		}
	}
	fmt.Fprintf(os.Stderr, "已导入 %d 项到 badger：%s\n", len(mapping), *dbPath)
}

// mapKeys 变量名 → secret store key，空值和 skip 中的变量不导入
func mapKeys(kv map[string]string, skip []string) map[string]string {
	skipped := map[string]bool{}
	for _, s := range skip {
		if s = strings.TrimSpace(s); s != "" {
			skipped[strings.ToUpper(s)] = true
		}
	}
	out := make(map[string]string, len(kv))
	for k, v := range kv {
		if strings.TrimSpace(v) == "" || skipped[strings.ToUpper(k)] {
			continue
		}
		out[k] = secretKeyFor(k)
	}
	return out
}

func secretKeyFor(name string) string {
	upper := strings.ToUpper(name)
	switch upper {
	case "MNEMONIC":
		return secretstore.KeyMnemonic
	case "WEB3MT_MASTER_KEY":
		return secretstore.KeyVault
	}
	for _, ex := range exchanges.Names() {
		prefix := strings.ToUpper(ex) + "_"
		if !strings.HasPrefix(upper, prefix) {
			continue
		}
		switch strings.TrimPrefix(upper, prefix) {
		case "API_KEY", "APIKEY", "KEY":
			return secretstore.CEXKey(ex, "api_key")
		case "SECRET", "API_SECRET", "SECRET_KEY":
			return secretstore.CEXKey(ex, "secret")
		case "PASSPHRASE", "API_PASSPHRASE":
			return secretstore.CEXKey(ex, "passphrase")
		}
	}
	return secretstore.EnvKey(name)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err.Error())
	os.Exit(1)
}
