package keys

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// KeyStore keeps participant seeds on the local filesystem.
//
// EXPERIMENTAL: this storage surface is not part of the channel protocol and may
// change.
//
// Layout:
//
//	<dir>/<name>/root.seed
//	<dir>/<name>/roles/<role>.seed
//
// Role seeds are derived from the root seed with DeriveRoleSeed, so a single root
// can back several channel identities (for example one Author and a test
// Subscriber).
type KeyStore struct {
	Directory string
}

type KeyEntry struct {
	Identifier string
	Roles      []string
}

func GetDefaultDirectory() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".xdao", "streams", "keys"), nil
}

func CreateKeyStore(directory string) (*KeyStore, error) {
	if directory == "" {
		var err error
		directory, err = GetDefaultDirectory()
		if err != nil {
			return nil, err
		}
	}
	return &KeyStore{Directory: directory}, nil
}

func (ks *KeyStore) rootSeedPath(identifier string) string {
	return filepath.Join(ks.Directory, identifier, "root.seed")
}

func (ks *KeyStore) roleSeedPath(identifier, role string) string {
	return filepath.Join(ks.Directory, identifier, "roles", role+".seed")
}

func CheckKeyName(identifier string) error {
	if identifier == "" {
		return errors.New("identifier cannot be empty")
	}
	for _, char := range identifier {
		if (char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') || (char >= '0' && char <= '9') || char == '-' || char == '_' {
			continue
		}
		return fmt.Errorf("invalid character %q in identifier", char)
	}
	return nil
}

func CheckRole(role string) error {
	if role == "" {
		return errors.New("role cannot be empty")
	}
	for _, char := range role {
		if (char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') || (char >= '0' && char <= '9') || char == '-' || char == '_' {
			continue
		}
		return fmt.Errorf("invalid character %q in role", char)
	}
	return nil
}

func (ks *KeyStore) saveSeed(filePath, seed string, overwrite bool) error {
	seed = strings.TrimSpace(seed)
	if seed == "" {
		return errors.New("seed cannot be empty")
	}
	if strings.ContainsAny(seed, "\r\n") {
		return errors.New("seed must be a single line")
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0o700); err != nil {
		return err
	}
	flags := os.O_WRONLY | os.O_CREATE
	if overwrite {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}
	file, err := os.OpenFile(filePath, flags, 0o600)
	if err != nil {
		return err
	}
	defer file.Close()
	if _, err := file.WriteString(seed + "\n"); err != nil {
		return err
	}
	return file.Close()
}

func (ks *KeyStore) loadSeed(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", err
	}
	seed := strings.TrimSpace(string(data))
	if seed == "" {
		return "", fmt.Errorf("empty seed file: %s", filePath)
	}
	return seed, nil
}

// InitializeRoot stores seed under identifier and returns the resulting identity.
func (ks *KeyStore) InitializeRoot(identifier, seed string, scheme Scheme, overwrite bool) (*Identity, string, error) {
	if err := CheckKeyName(identifier); err != nil {
		return nil, "", err
	}
	id, err := FromSeed(seed, scheme)
	if err != nil {
		return nil, "", err
	}
	filePath := ks.rootSeedPath(identifier)
	if err := ks.saveSeed(filePath, seed, overwrite); err != nil {
		return nil, "", err
	}
	return id, filePath, nil
}

// DeriveRole stores a role seed derived from identifier's root seed.
func (ks *KeyStore) DeriveRole(identifier, role string, scheme Scheme, overwrite bool) (*Identity, string, error) {
	if err := CheckKeyName(identifier); err != nil {
		return nil, "", err
	}
	if err := CheckRole(role); err != nil {
		return nil, "", err
	}
	rootSeed, err := ks.loadSeed(ks.rootSeedPath(identifier))
	if err != nil {
		return nil, "", err
	}
	root, err := RootSeed(rootSeed)
	if err != nil {
		return nil, "", err
	}
	roleSeed, err := DeriveRoleSeed(root, role)
	if err != nil {
		return nil, "", err
	}
	seed := hex.EncodeToString(roleSeed)
	id, err := FromSeed(seed, scheme)
	if err != nil {
		return nil, "", err
	}
	filePath := ks.roleSeedPath(identifier, role)
	if err := ks.saveSeed(filePath, seed, overwrite); err != nil {
		return nil, "", err
	}
	return id, filePath, nil
}

// LoadSeed returns the seed string stored for identifier (and role, if set).
func (ks *KeyStore) LoadSeed(identifier, role string) (string, error) {
	if err := CheckKeyName(identifier); err != nil {
		return "", err
	}
	if role == "" {
		return ks.loadSeed(ks.rootSeedPath(identifier))
	}
	if err := CheckRole(role); err != nil {
		return "", err
	}
	return ks.loadSeed(ks.roleSeedPath(identifier, role))
}

// Export returns the public identity text for a stored seed.
func (ks *KeyStore) Export(identifier, role string, scheme Scheme) (string, error) {
	seed, err := ks.LoadSeed(identifier, role)
	if err != nil {
		return "", err
	}
	id, err := FromSeed(seed, scheme)
	if err != nil {
		return "", err
	}
	return FormatPublic(id.Public())
}

func (ks *KeyStore) ListKeys() ([]KeyEntry, error) {
	entries, err := os.ReadDir(ks.Directory)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var identifiers []string
	for _, entry := range entries {
		if entry.IsDir() {
			identifiers = append(identifiers, entry.Name())
		}
	}
	sort.Strings(identifiers)

	var result []KeyEntry
	for _, identifier := range identifiers {
		rolesDir := filepath.Join(ks.Directory, identifier, "roles")
		roleEntries, rerr := os.ReadDir(rolesDir)
		var roles []string
		if rerr == nil {
			for _, roleEntry := range roleEntries {
				if roleEntry.IsDir() {
					continue
				}
				if strings.HasSuffix(roleEntry.Name(), ".seed") {
					roles = append(roles, strings.TrimSuffix(roleEntry.Name(), ".seed"))
				}
			}
			sort.Strings(roles)
		}
		result = append(result, KeyEntry{Identifier: identifier, Roles: roles})
	}
	return result, nil
}
