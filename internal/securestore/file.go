package securestore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	fileFormatVersion = 1
	checkKey          = "__check__"
	checkValue        = "kamui-auth"
)

// fileContents is the on-disk layout of a File store
type fileContents struct {
	Version int               `json:"version"`
	Salt    string            `json:"salt"`
	Check   string            `json:"check"`
	Entries map[string]string `json:"entries"`
}

// File is a Store persisted to a single JSON file. Each value is encrypted
// with AES-256-GCM using a key derived from a passphrase.
type File struct {
	path   string
	mu     sync.Mutex
	sealer *sealer
	salt   []byte
}

// OpenFile opens the store at path, creating the salt on first use.
// It returns ErrDecrypt if the file exists and was written with a different passphrase.
func OpenFile(path string, passphrase []byte) (*File, error) {
	if len(passphrase) == 0 {
		return nil, errors.New("passphrase is required")
	}

	f := &File{path: path}

	contents, err := f.read()
	if err != nil {
		return nil, err
	}

	if contents.Salt != "" {
		f.salt, err = base64.StdEncoding.DecodeString(contents.Salt)
		if err != nil {
			return nil, fmt.Errorf("invalid salt in %s: %w", path, err)
		}
	} else {
		f.salt, err = newSalt()
		if err != nil {
			return nil, err
		}
	}

	f.sealer, err = newSealer(deriveKey(passphrase, f.salt))
	if err != nil {
		return nil, err
	}

	if contents.Check != "" {
		v, err := f.sealer.open(checkKey, contents.Check)
		if err != nil || v != checkValue {
			return nil, ErrDecrypt
		}
	}

	return f, nil
}

// Path returns the file location
func (f *File) Path() string {
	return f.path
}

// Get returns the decrypted value for key
func (f *File) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	contents, err := f.read()
	if err != nil {
		return "", &StorageError{Op: "get", Key: key, Err: err}
	}

	sealed, ok := contents.Entries[key]
	if !ok {
		return "", ErrNotFound
	}

	v, err := f.sealer.open(key, sealed)
	if err != nil {
		return "", &StorageError{Op: "get", Key: key, Err: err}
	}
	return v, nil
}

// Set encrypts and stores value under key
func (f *File) Set(ctx context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	contents, err := f.read()
	if err != nil {
		return &StorageError{Op: "set", Key: key, Err: err}
	}

	sealed, err := f.sealer.seal(key, value)
	if err != nil {
		return &StorageError{Op: "set", Key: key, Err: err}
	}
	contents.Entries[key] = sealed

	if err := f.write(contents); err != nil {
		return &StorageError{Op: "set", Key: key, Err: err}
	}
	return nil
}

// Delete removes key from the file
func (f *File) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	contents, err := f.read()
	if err != nil {
		return &StorageError{Op: "delete", Key: key, Err: err}
	}

	if _, ok := contents.Entries[key]; !ok {
		return nil
	}
	delete(contents.Entries, key)

	if err := f.write(contents); err != nil {
		return &StorageError{Op: "delete", Key: key, Err: err}
	}
	return nil
}

// read loads the file. A missing file yields empty contents.
func (f *File) read() (*fileContents, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &fileContents{Version: fileFormatVersion, Entries: map[string]string{}}, nil
		}
		return nil, err
	}

	var contents fileContents
	if err := json.Unmarshal(data, &contents); err != nil {
		return nil, fmt.Errorf("corrupt store file %s: %w", f.path, err)
	}
	if contents.Entries == nil {
		contents.Entries = map[string]string{}
	}
	return &contents, nil
}

// write replaces the file atomically (temp file + rename)
func (f *File) write(contents *fileContents) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return err
	}

	contents.Version = fileFormatVersion
	contents.Salt = base64.StdEncoding.EncodeToString(f.salt)
	if contents.Check == "" {
		check, err := f.sealer.seal(checkKey, checkValue)
		if err != nil {
			return err
		}
		contents.Check = check
	}

	data, err := json.MarshalIndent(contents, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".securestore-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmpName, f.path)
}
