package daemon

import (
	"os"
	"path/filepath"
	"slices"

	"github.com/benaskins/icnswitch/internal/prefs"
)

// servicePrefs reads a service's preferences from its file first and its
// secret store second. Writes go to the secret store for secret keys and to
// the file for everything else.
type servicePrefs struct {
	prefs.Chain
	file       prefs.Store
	secret     prefs.Store
	secretKeys []string
}

func (p *servicePrefs) isSecret(key string) bool {
	return slices.Contains(p.secretKeys, key)
}

func (p *servicePrefs) Set(key, value string) error {
	if p.isSecret(key) {
		return p.secret.Set(key, value)
	}
	return p.file.Set(key, value)
}

// prefsPath picks the service's preference file: an existing .toml wins,
// otherwise .yaml.
func prefsPath(dir, service string) string {
	toml := filepath.Join(dir, service+".toml")
	if _, err := os.Stat(toml); err == nil {
		return toml
	}
	return filepath.Join(dir, service+".yaml")
}

func (d *Daemon) newServicePrefs(service string, secretKeys []string) *servicePrefs {
	file := prefs.NewAuditedStore(prefs.NewFileStore(prefsPath(d.prefsDir, service)), d.audit, service, "api", false)
	var secret prefs.Store = prefs.NewMemoryStore(nil)
	if d.secrets != nil {
		secret = prefs.NewAuditedStore(prefs.NewScoped(d.secrets, service), d.audit, service, "api", true)
	}
	return &servicePrefs{
		Chain:      prefs.Chain{file, secret},
		file:       file,
		secret:     secret,
		secretKeys: secretKeys,
	}
}
