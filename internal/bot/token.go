package bot

import (
	"crypto/rand"
	"encoding/base64"
	"sync"
)

// ownerToken is generated on first use and lives only in memory.
var ownerToken = sync.OnceValue(func() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("bot: crypto/rand unavailable: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(b)
})

// OwnerToken returns the process's bootstrap token for owner registration.
func OwnerToken() string {
	return ownerToken()
}
