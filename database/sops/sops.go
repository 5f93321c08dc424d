// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sops encrypts snapshot pages at rest with SOPS master keys
package sops

import (
	"errors"
	"fmt"
	"os"

	sopsapi "github.com/getsops/sops/v3"
	"github.com/getsops/sops/v3/aes"
	"github.com/getsops/sops/v3/age"
	scommon "github.com/getsops/sops/v3/cmd/sops/common"
	"github.com/getsops/sops/v3/config"
	"github.com/getsops/sops/v3/decrypt"
	"github.com/getsops/sops/v3/gcpkms"
	skeys "github.com/getsops/sops/v3/keys"
	awskms "github.com/getsops/sops/v3/kms"
	jsonstore "github.com/getsops/sops/v3/stores/json"
	"github.com/getsops/sops/v3/version"
)

const (
	EnvGCPKMSResourceID = "TAGGR_GCP_KMS_RESOURCE_ID"
	EnvAWSKMSKeyARNs    = "TAGGR_AWS_KMS_KEY_ARNS"
	EnvAWSKMSProfile    = "TAGGR_AWS_KMS_PROFILE"
	EnvAgeRecipients    = "TAGGR_AGE_RECIPIENTS"
)

var ErrNoMasterKeys = errors.New(
	"SOPS requires at least one master key to encrypt: set " +
		EnvGCPKMSResourceID + ", " + EnvAWSKMSKeyARNs + " and/or " + EnvAgeRecipients,
)

var ErrAlreadyEncrypted = errors.New("already encrypted")

// KeyConfig selects the master keys used to wrap the data key
type KeyConfig struct {
	GCPKMSResourceID string
	AWSKMSKeyARNs    string
	AWSKMSProfile    string
	// Comma separated age public keys
	AgeRecipients string
}

// KeyConfigFromEnv reads the master key configuration from the environment
func KeyConfigFromEnv() KeyConfig {
	return KeyConfig{
		GCPKMSResourceID: os.Getenv(EnvGCPKMSResourceID),
		AWSKMSKeyARNs:    os.Getenv(EnvAWSKMSKeyARNs),
		AWSKMSProfile:    os.Getenv(EnvAWSKMSProfile),
		AgeRecipients:    os.Getenv(EnvAgeRecipients),
	}
}

// Decrypt reverses Encrypt. Age identities are taken from SOPS_AGE_KEY or
// SOPS_AGE_KEY_FILE and cloud credentials from the usual SDK sources.
func Decrypt(data []byte) ([]byte, error) {
	ret, err := decrypt.Data(data, "binary")
	if err != nil {
		return nil, err
	}
	return ret, nil
}

// Encrypt encrypts data with the master keys configured in the environment
func Encrypt(data []byte) ([]byte, error) {
	return EncryptWith(KeyConfigFromEnv(), data)
}

// EncryptWith encrypts data with the given master keys
func EncryptWith(keyConfig KeyConfig, data []byte) ([]byte, error) {
	storeConfig := &config.JSONBinaryStoreConfig{}
	input := jsonstore.NewBinaryStore(storeConfig)
	output := jsonstore.NewBinaryStore(storeConfig)

	// prevent double encryption
	branches, err := input.LoadPlainFile(data)
	if err != nil {
		return nil, fmt.Errorf("error loading data: %w", err)
	}
	for _, branch := range branches {
		for _, b := range branch {
			if b.Key == "sops" {
				return nil, ErrAlreadyEncrypted
			}
		}
	}

	tree := sopsapi.Tree{Branches: branches}
	keyGroups, err := keyConfig.masterKeyGroups()
	if err != nil {
		return nil, err
	}
	tree.Metadata = sopsapi.Metadata{
		KeyGroups: keyGroups,
		Version:   version.Version,
	}

	dataKey, errs := tree.GenerateDataKey()
	if len(errs) > 0 {
		return nil, fmt.Errorf("failed generating data key: %v", errs)
	}
	if err := scommon.EncryptTree(scommon.EncryptTreeOpts{
		DataKey: dataKey,
		Tree:    &tree,
		Cipher:  aes.NewCipher(),
	}); err != nil {
		return nil, fmt.Errorf("failed encrypt: %w", err)
	}

	encrypted, err := output.EmitEncryptedFile(tree)
	if err != nil {
		return nil, fmt.Errorf("failed output: %w", err)
	}
	return encrypted, nil
}

func (c KeyConfig) masterKeyGroups() ([]sopsapi.KeyGroup, error) {
	keyGroups := []sopsapi.KeyGroup{}

	if c.GCPKMSResourceID != "" {
		keys := []skeys.MasterKey{}
		for _, k := range gcpkms.MasterKeysFromResourceIDString(c.GCPKMSResourceID) {
			keys = append(keys, k)
		}
		if len(keys) > 0 {
			keyGroups = append(keyGroups, keys)
		}
	}

	if c.AWSKMSKeyARNs != "" {
		keys := []skeys.MasterKey{}
		for _, k := range awskms.MasterKeysFromArnString(c.AWSKMSKeyARNs, nil, c.AWSKMSProfile) {
			keys = append(keys, k)
		}
		if len(keys) > 0 {
			keyGroups = append(keyGroups, keys)
		}
	}

	if c.AgeRecipients != "" {
		ageKeys, err := age.MasterKeysFromRecipients(c.AgeRecipients)
		if err != nil {
			return nil, fmt.Errorf("parse age recipients: %w", err)
		}
		keys := []skeys.MasterKey{}
		for _, k := range ageKeys {
			keys = append(keys, k)
		}
		if len(keys) > 0 {
			keyGroups = append(keyGroups, keys)
		}
	}

	if len(keyGroups) == 0 {
		return nil, ErrNoMasterKeys
	}
	return keyGroups, nil
}
