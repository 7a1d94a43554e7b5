// Package keystore persists token values and their metadata in a bbolt
// database. Values in the secrets bucket are encrypted with AES-GCM under
// a key derived from a passphrase.
package keystore

import (
	"crypto/cipher"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// dirPerm is the permission mode for the keystore directory.
	dirPerm = fs.FileMode(0o700)

	// filePerm is the permission mode for the keystore database file.
	filePerm = fs.FileMode(0o600)

	// openTimeout is the maximum time to wait for the bolt database lock.
	openTimeout = 5 * time.Second
)

var (
	metaBucket        = []byte("meta")
	secretsBucket     = []byte("secrets")
	preferencesBucket = []byte("preferences")

	saltKey  = []byte("salt")
	checkKey = []byte("check")
)

// ErrWrongPassphrase is returned when the passphrase does not match the
// one the keystore was created with.
var ErrWrongPassphrase = errors.New("keystore: wrong passphrase")

// ErrEncrypted is returned when a keystore created with a passphrase is
// opened without one.
var ErrEncrypted = errors.New("keystore: encrypted, passphrase required")

// ErrNotEncrypted is returned when a passphrase is given for a keystore
// that already holds unencrypted secrets.
var ErrNotEncrypted = errors.New("keystore: secrets stored unencrypted, open without a passphrase")

// Keystore wraps a bbolt database with a secrets bucket and a
// preferences bucket.
type Keystore struct {
	db  *bolt.DB
	gcm cipher.AEAD
}

// DefaultPath returns ~/.apikit/keystore.db.
func DefaultPath() (string, error) {
	dir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(dir, ".apikit", "keystore.db"), nil
}

// OpenAt opens the keystore at path, creating it if it does not exist.
// An empty passphrase stores secrets unencrypted. A keystore created with
// a passphrase can only be opened with the same one, and one holding
// unencrypted secrets only without one.
func OpenAt(path, passphrase string) (*Keystore, error) {
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return nil, fmt.Errorf("creating keystore directory: %w", err)
	}

	db, err := bolt.Open(path, filePerm, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening keystore: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{metaBucket, secretsBucket, preferencesBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing keystore: %w", err)
	}

	k := &Keystore{db: db}

	if passphrase == "" {
		if err := k.checkPlain(); err != nil {
			db.Close()
			return nil, err
		}

		return k, nil
	}

	if err := k.unlock(passphrase); err != nil {
		db.Close()
		return nil, err
	}

	return k, nil
}

// Close closes the database.
func (k *Keystore) Close() error {
	return k.db.Close()
}

// Encrypted reports whether secrets are encrypted at rest.
func (k *Keystore) Encrypted() bool {
	return k.gcm != nil
}

// Secrets returns the store for token values.
func (k *Keystore) Secrets() *BucketStore {
	return &BucketStore{ks: k, bucket: secretsBucket, sealed: k.gcm != nil}
}

// Preferences returns the store for token metadata.
func (k *Keystore) Preferences() *BucketStore {
	return &BucketStore{ks: k, bucket: preferencesBucket}
}

// checkPlain rejects opening an encrypted keystore without a passphrase.
func (k *Keystore) checkPlain() error {
	return k.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(metaBucket).Get(checkKey) != nil {
			return ErrEncrypted
		}

		return nil
	})
}

// unlock derives the cipher from passphrase. On first use it creates the
// salt and a check value; afterwards the check value must decrypt.
func (k *Keystore) unlock(passphrase string) error {
	return k.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(metaBucket)

		salt := meta.Get(saltKey)
		if salt == nil {
			var err error

			salt, err = newSalt()
			if err != nil {
				return err
			}

			if err := meta.Put(saltKey, salt); err != nil {
				return err
			}
		}

		gcm, err := newCipher(passphrase, salt)
		if err != nil {
			return err
		}

		if check := meta.Get(checkKey); check != nil {
			if _, err := open(gcm, check); err != nil {
				return ErrWrongPassphrase
			}
		} else {
			if key, _ := tx.Bucket(secretsBucket).Cursor().First(); key != nil {
				return ErrNotEncrypted
			}

			sealed, err := seal(gcm, checkPlaintext)
			if err != nil {
				return err
			}

			if err := meta.Put(checkKey, sealed); err != nil {
				return err
			}
		}

		k.gcm = gcm

		return nil
	})
}

// BucketStore is a key/value store over one keystore bucket. Read
// returns nil, nil for absent keys.
type BucketStore struct {
	ks     *Keystore
	bucket []byte
	sealed bool
}

// Save stores value under key, encrypting it in the secrets bucket.
func (s *BucketStore) Save(key string, value []byte) error {
	if s.sealed {
		var err error

		value, err = seal(s.ks.gcm, value)
		if err != nil {
			return err
		}
	}

	return s.ks.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Put([]byte(key), value)
	})
}

// Read returns the value stored under key, or nil if not found.
func (s *BucketStore) Read(key string) ([]byte, error) {
	var value []byte

	err := s.ks.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(s.bucket).Get([]byte(key))
		if v == nil {
			return nil
		}

		// Values from Get are only valid inside the transaction.
		value = append([]byte(nil), v...)

		return nil
	})
	if err != nil || value == nil {
		return nil, err
	}

	if !s.sealed {
		return value, nil
	}

	plain, err := open(s.ks.gcm, value)
	if err != nil {
		return nil, fmt.Errorf("decrypting %s: %w", key, err)
	}

	return plain, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *BucketStore) Delete(key string) error {
	return s.ks.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Delete([]byte(key))
	})
}

// Keys returns every key in the bucket with the given prefix.
func (s *BucketStore) Keys(prefix string) ([]string, error) {
	var keys []string

	err := s.ks.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(s.bucket).Cursor()
		p := []byte(prefix)

		for k, _ := c.Seek(p); k != nil && hasPrefix(k, p); k, _ = c.Next() {
			keys = append(keys, string(k))
		}

		return nil
	})

	return keys, err
}

func hasPrefix(b, prefix []byte) bool {
	return len(b) >= len(prefix) && string(b[:len(prefix)]) == string(prefix)
}
