package securestore

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

// ReadJSON loads v from path. A nil sealer reads plaintext JSON; with a sealer
// the file must be sealed. Missing files report ok=false without error.
func ReadJSON(path string, sealer *Sealer, v any) (bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if len(raw) == 0 {
		return false, nil
	}
	if sealer != nil {
		raw, err = sealer.Open(raw)
		if err != nil {
			return false, err
		}
	} else if IsSealed(raw) {
		return false, ErrNoPassphrase
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, err
	}
	return true, nil
}

// WriteJSON marshals v, seals it when sealer is set and replaces path atomically.
func WriteJSON(path string, sealer *Sealer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if sealer != nil {
		payload, err = sealer.Seal(payload)
		if err != nil {
			return err
		}
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// Remove deletes path; a missing file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
