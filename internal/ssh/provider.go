package ssh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"azwebvm/internal/config"
	"azwebvm/internal/logging"
)

const sshKeysPath = "/config/ssh_keys"

// ErrKeyNotFound is returned by Get when no key pair is stored under a name.
var ErrKeyNotFound = errors.New("SSH key pair not found")

// KeyProvider defines the interface for SSH key management. Keys are
// stored under a name, one pair per stack.
type KeyProvider interface {
	// Get retrieves existing keys without writing anything
	Get(ctx context.Context, name string) (*KeyPair, error)
	// GetOrCreate retrieves existing keys or creates new ones
	GetOrCreate(ctx context.Context, name string) (*KeyPair, error)
	// Save saves the key pair to storage
	Save(ctx context.Context, name string, keyPair *KeyPair) error
	// Delete removes the keys from storage
	Delete(ctx context.Context, name string) error
	// Close closes any connections
	Close() error
}

// FileKeyProvider keeps keys as <dir>/<name> and <dir>/<name>.pub
type FileKeyProvider struct {
	dir string
}

func NewFileKeyProvider(dir string) *FileKeyProvider {
	return &FileKeyProvider{dir: dir}
}

// Get reads the key files. A missing public key is derived from the private
// key but not written back.
func (p *FileKeyProvider) Get(_ context.Context, name string) (*KeyPair, error) {
	kp, _, err := p.read(name)
	return kp, err
}

// GetOrCreate reads the key files, generating a pair when none exists and
// restoring the public half when only the private key is present.
func (p *FileKeyProvider) GetOrCreate(ctx context.Context, name string) (*KeyPair, error) {
	kp, pubMissing, err := p.read(name)
	if errors.Is(err, ErrKeyNotFound) {
		logging.Logger().Info("No SSH keys found, generating new key pair", zap.String("dir", p.dir))
		keyPair, err := GenerateKeyPair()
		if err != nil {
			return nil, err
		}
		if err := p.Save(ctx, name, keyPair); err != nil {
			return nil, err
		}
		return keyPair, nil
	}
	if err != nil {
		return nil, err
	}

	if pubMissing {
		publicKeyPath := filepath.Join(p.dir, name) + ".pub"
		if err := os.WriteFile(publicKeyPath, []byte(kp.PublicKey+"\n"), 0644); err != nil {
			return nil, fmt.Errorf("failed to write public key: %w", err)
		}
	}
	return kp, nil
}

// read loads the pair; pubMissing reports a public key derived in memory.
func (p *FileKeyProvider) read(name string) (kp *KeyPair, pubMissing bool, err error) {
	privateKeyPath := filepath.Join(p.dir, name)

	privateKey, err := os.ReadFile(privateKeyPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, ErrKeyNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read private key: %w", err)
	}

	publicKey, err := os.ReadFile(privateKeyPath + ".pub")
	if err == nil {
		return &KeyPair{PrivateKey: string(privateKey), PublicKey: string(trimNewline(publicKey))}, false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, fmt.Errorf("failed to read existing public key: %w", err)
	}

	// Private key exists but public key doesn't, regenerate public key
	pub, err := publicKeyFromPrivate(privateKey)
	if err != nil {
		return nil, false, err
	}
	return &KeyPair{PrivateKey: string(privateKey), PublicKey: pub}, true, nil
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}

// Save writes both key files with restrictive permissions on the private key
func (p *FileKeyProvider) Save(_ context.Context, name string, keyPair *KeyPair) error {
	if err := os.MkdirAll(p.dir, 0700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	privateKeyPath := filepath.Join(p.dir, name)
	if err := os.WriteFile(privateKeyPath, []byte(keyPair.PrivateKey), 0600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}
	if err := os.WriteFile(privateKeyPath+".pub", []byte(keyPair.PublicKey+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write public key: %w", err)
	}
	return nil
}

// Delete removes the key files
func (p *FileKeyProvider) Delete(_ context.Context, name string) error {
	privateKeyPath := filepath.Join(p.dir, name)
	if err := os.Remove(privateKeyPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove private key: %w", err)
	}
	if err := os.Remove(privateKeyPath + ".pub"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove public key: %w", err)
	}
	return nil
}

func (p *FileKeyProvider) Close() error {
	return nil
}

// EtcdKeyProvider stores SSH keys in etcd
type EtcdKeyProvider struct {
	client *clientv3.Client
}

// NewEtcdKeyProvider creates a new etcd-based key provider
func NewEtcdKeyProvider(endpoints []string) (*EtcdKeyProvider, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}
	return &EtcdKeyProvider{client: cli}, nil
}

func etcdKey(name string) string {
	return sshKeysPath + "/" + name
}

// Get retrieves existing keys from etcd
func (p *EtcdKeyProvider) Get(ctx context.Context, name string) (*KeyPair, error) {
	resp, err := p.client.Get(ctx, etcdKey(name))
	if err != nil {
		return nil, fmt.Errorf("failed to get SSH keys from etcd: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return nil, ErrKeyNotFound
	}

	var stored storedKeyPair
	if err := json.Unmarshal(resp.Kvs[0].Value, &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal SSH keys: %w", err)
	}
	return &KeyPair{
		PrivateKey: stored.PrivateKey,
		PublicKey:  stored.PublicKey,
	}, nil
}

// GetOrCreate retrieves existing keys from etcd or creates new ones
func (p *EtcdKeyProvider) GetOrCreate(ctx context.Context, name string) (*KeyPair, error) {
	kp, err := p.Get(ctx, name)
	if err == nil {
		logging.Logger().Info("Using existing SSH keys from etcd", zap.String("name", name))
		return kp, nil
	}
	if !errors.Is(err, ErrKeyNotFound) {
		return nil, err
	}

	logging.Logger().Info("No SSH keys found in etcd, generating new key pair", zap.String("name", name))
	keyPair, err := GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate SSH key pair: %w", err)
	}
	if err := p.Save(ctx, name, keyPair); err != nil {
		return nil, err
	}
	return keyPair, nil
}

// Save saves the key pair to etcd
func (p *EtcdKeyProvider) Save(ctx context.Context, name string, keyPair *KeyPair) error {
	data, err := json.Marshal(storedKeyPair{
		PrivateKey: keyPair.PrivateKey,
		PublicKey:  keyPair.PublicKey,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal SSH keys: %w", err)
	}
	if _, err := p.client.Put(ctx, etcdKey(name), string(data)); err != nil {
		return fmt.Errorf("failed to save SSH keys to etcd: %w", err)
	}
	return nil
}

// Delete removes the keys from etcd
func (p *EtcdKeyProvider) Delete(ctx context.Context, name string) error {
	if _, err := p.client.Delete(ctx, etcdKey(name)); err != nil {
		return fmt.Errorf("failed to delete SSH keys from etcd: %w", err)
	}
	return nil
}

// Close closes the etcd client
func (p *EtcdKeyProvider) Close() error {
	return p.client.Close()
}

// storedKeyPair represents the JSON structure stored in etcd
type storedKeyPair struct {
	PrivateKey string `json:"private_key"`
	PublicKey  string `json:"public_key"`
}

// InMemoryKeyProvider generates keys in memory (no persistence)
type InMemoryKeyProvider struct {
	mu   sync.Mutex
	keys map[string]*KeyPair
}

func NewInMemoryKeyProvider() *InMemoryKeyProvider {
	return &InMemoryKeyProvider{keys: make(map[string]*KeyPair)}
}

func (p *InMemoryKeyProvider) Get(_ context.Context, name string) (*KeyPair, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if kp, ok := p.keys[name]; ok {
		return kp, nil
	}
	return nil, ErrKeyNotFound
}

func (p *InMemoryKeyProvider) GetOrCreate(_ context.Context, name string) (*KeyPair, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if kp, ok := p.keys[name]; ok {
		return kp, nil
	}
	kp, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	p.keys[name] = kp
	return kp, nil
}

func (p *InMemoryKeyProvider) Save(_ context.Context, name string, keyPair *KeyPair) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys[name] = keyPair
	return nil
}

func (p *InMemoryKeyProvider) Delete(_ context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.keys, name)
	return nil
}

func (p *InMemoryKeyProvider) Close() error {
	return nil
}

// NewKeyProvider creates the key provider selected by config. An unreachable
// etcd falls back to the file provider.
func NewKeyProvider(cfg config.SSHConfig) KeyProvider {
	if cfg.KeyStore != config.KeyStoreEtcd || cfg.Etcd == nil || len(cfg.Etcd.Endpoints) == 0 {
		return NewFileKeyProvider(cfg.KeyDir)
	}

	provider, err := NewEtcdKeyProvider(cfg.Etcd.Endpoints)
	if err != nil {
		logging.Logger().Warn("Failed to connect to etcd, falling back to file key provider",
			zap.Error(err))
		return NewFileKeyProvider(cfg.KeyDir)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if _, err := provider.client.Get(ctx, "/test_connection"); err != nil {
		logging.Logger().Warn("etcd connection test failed, falling back to file key provider",
			zap.Error(err))
		provider.Close()
		return NewFileKeyProvider(cfg.KeyDir)
	}

	logging.Logger().Info("Connected to etcd for SSH key storage",
		zap.Strings("endpoints", cfg.Etcd.Endpoints))
	return provider
}
