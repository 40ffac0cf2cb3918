package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Keystore mantiene la clave de firma activa y opcionalmente una "retiring"
// (rotación: los tokens viejos siguen verificando por kid hasta vencer).
type Keystore struct {
	mu       sync.RWMutex
	active   *keyEntry
	retiring *keyEntry
	dir      string // vacío = sólo memoria
}

type keyEntry struct {
	KID  string
	Priv ed25519.PrivateKey
	Pub  ed25519.PublicKey
}

// keystoreFile es el formato persistido en disco (sólo seeds, base64).
type keystoreFile struct {
	Active   *keyFileEntry `json:"active"`
	Retiring *keyFileEntry `json:"retiring,omitempty"`
}

type keyFileEntry struct {
	KID  string `json:"kid"`
	Seed string `json:"seed"` // base64(ed25519 seed)
}

// NewMemoryKeystore genera una clave Ed25519 efímera (dev/tests).
func NewMemoryKeystore() (*Keystore, error) {
	e, err := newKeyEntry()
	if err != nil {
		return nil, err
	}
	return &Keystore{active: e}, nil
}

// LoadOrCreate carga el keystore de dir, o genera y persiste uno nuevo.
func LoadOrCreate(dir string) (*Keystore, error) {
	if dir == "" {
		return NewMemoryKeystore()
	}
	path := filepath.Join(dir, "signing_keys.json")
	b, err := os.ReadFile(path)
	if err == nil {
		var f keystoreFile
		if err := json.Unmarshal(b, &f); err != nil {
			return nil, fmt.Errorf("keystore: parse %s: %w", path, err)
		}
		ks := &Keystore{dir: dir}
		if ks.active, err = f.Active.toEntry(); err != nil {
			return nil, err
		}
		if f.Retiring != nil {
			if ks.retiring, err = f.Retiring.toEntry(); err != nil {
				return nil, err
			}
		}
		return ks, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	e, err := newKeyEntry()
	if err != nil {
		return nil, err
	}
	ks := &Keystore{active: e, dir: dir}
	if err := ks.persist(); err != nil {
		return nil, err
	}
	return ks, nil
}

func newKeyEntry() (*keyEntry, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	// kid único aun rotando dentro del mismo segundo
	kid := fmt.Sprintf("key-%d-%s", time.Now().UTC().Unix(), uuid.NewString()[:8])
	return &keyEntry{KID: kid, Priv: priv, Pub: pub}, nil
}

func (f *keyFileEntry) toEntry() (*keyEntry, error) {
	seed, err := base64.StdEncoding.DecodeString(f.Seed)
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, errors.New("keystore: bad seed")
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &keyEntry{KID: f.KID, Priv: priv, Pub: priv.Public().(ed25519.PublicKey)}, nil
}

func (k *keyEntry) toFile() *keyFileEntry {
	return &keyFileEntry{
		KID:  k.KID,
		Seed: base64.StdEncoding.EncodeToString(k.Priv.Seed()),
	}
}

func (ks *Keystore) persist() error {
	if ks.dir == "" {
		return nil
	}
	if err := os.MkdirAll(ks.dir, 0o700); err != nil {
		return err
	}
	f := keystoreFile{Active: ks.active.toFile()}
	if ks.retiring != nil {
		f.Retiring = ks.retiring.toFile()
	}
	b, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	// escritura atómica: tmp + rename
	path := filepath.Join(ks.dir, "signing_keys.json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Active devuelve (kid, priv, pub) de la clave activa.
func (ks *Keystore) Active() (string, ed25519.PrivateKey, ed25519.PublicKey, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	if ks.active == nil {
		return "", nil, nil, errors.New("keystore: no active key")
	}
	return ks.active.KID, ks.active.Priv, ks.active.Pub, nil
}

// PublicKeyByKID resuelve la pubkey por kid (active o retiring).
func (ks *Keystore) PublicKeyByKID(kid string) (ed25519.PublicKey, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	if ks.active != nil && ks.active.KID == kid {
		return ks.active.Pub, nil
	}
	if ks.retiring != nil && ks.retiring.KID == kid {
		return ks.retiring.Pub, nil
	}
	return nil, fmt.Errorf("keystore: unknown kid %q", kid)
}

// Rotate genera una clave nueva; la activa anterior pasa a retiring.
func (ks *Keystore) Rotate() error {
	e, err := newKeyEntry()
	if err != nil {
		return err
	}
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.retiring = ks.active
	ks.active = e
	return ks.persist()
}
