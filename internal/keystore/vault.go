// Package keystore resolves peer session keys from HashiCorp Vault. Key
// generation and rotation are operated outside the gateway; this package
// only reads.
package keystore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	vault "github.com/hashicorp/vault/api"

	"github.com/relaycorp/awala-gateway-internet-sub001/internal/domain/entity"
	"github.com/relaycorp/awala-gateway-internet-sub001/pkg/logger"
)

// sessionKeyField is the KV field holding the base64-encoded session key.
const sessionKeyField = "key"

// VaultKeyStore implements repository.SessionKeyStore on a Vault KVv2 mount
type VaultKeyStore struct {
	client     *vault.Client
	mount      string
	pathPrefix string
	logger     *logger.Logger
}

// NewVaultKeyStore creates a new Vault-backed session key store
func NewVaultKeyStore(client *vault.Client, mount, pathPrefix string, log *logger.Logger) *VaultKeyStore {
	return &VaultKeyStore{
		client:     client,
		mount:      mount,
		pathPrefix: pathPrefix,
		logger:     log,
	}
}

// GetSessionKey resolves the session key shared with the given peer. An
// unknown peer is a MessageError (the cargo is untrusted); a Vault outage is
// an UnavailableError (the cargo must stay queued).
func (s *VaultKeyStore) GetSessionKey(ctx context.Context, peerID string) ([]byte, error) {
	secretPath := s.pathPrefix + "/" + peerID

	secret, err := s.client.KVv2(s.mount).Get(ctx, secretPath)
	if err != nil {
		if errors.Is(err, vault.ErrSecretNotFound) {
			return nil, entity.NewMessageError(fmt.Sprintf("no session key for peer %s", peerID), nil)
		}
		return nil, entity.NewUnavailableError("session key store", err)
	}

	raw, ok := secret.Data[sessionKeyField].(string)
	if !ok || raw == "" {
		return nil, entity.NewMessageError(fmt.Sprintf("session key secret for peer %s has no %q field", peerID, sessionKeyField), nil)
	}

	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, entity.NewMessageError(fmt.Sprintf("session key for peer %s is not valid base64", peerID), err)
	}

	s.logger.Debug("Resolved peer session key", logger.String("peer_id", peerID))
	return key, nil
}
