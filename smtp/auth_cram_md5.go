// SPDX-FileCopyrightText: The go-asmtp Authors
//
// SPDX-License-Identifier: MIT

package smtp

import (
	"crypto/hmac"
	"crypto/md5"
	"encoding/hex"
)

// cramMD5Auth implements CRAM-MD5 (RFC 2195), keyed with HMAC-MD5 (RFC 2104).
type cramMD5Auth struct {
	username, password string
}

// CramMD5Auth returns an Auth implementing CRAM-MD5.
func CramMD5Auth(username, password string) Auth {
	return &cramMD5Auth{username: username, password: password}
}

func (a *cramMD5Auth) Start(_ *ServerInfo) (string, []byte, error) {
	return "CRAM-MD5", nil, nil
}

// Next receives the server's challenge already base64-decoded by the caller, per the Auth
// contract loginAuth also relies on.
func (a *cramMD5Auth) Next(fromServer []byte, more bool) ([]byte, error) {
	if !more {
		return nil, nil
	}
	digest := hmacMD5(cramMD5Key(a.password), fromServer)
	resp := a.username + " " + hex.EncodeToString(digest)
	return []byte(resp), nil
}

// cramMD5Key returns the HMAC-MD5 key for password, per RFC 2104: a key longer than the
// MD5 block size (64 bytes) is first replaced by its MD5 digest; in every case the result is
// then implicitly zero-padded to the block size by crypto/hmac itself, so no explicit
// padding step is needed here beyond the pre-hash.
func cramMD5Key(password string) []byte {
	key := []byte(password)
	if len(key) > 64 {
		sum := md5.Sum(key)
		key = sum[:]
	}
	return key
}

// hmacMD5 computes HMAC-MD5(key, message).
func hmacMD5(key, message []byte) []byte {
	mac := hmac.New(md5.New, key)
	mac.Write(message)
	return mac.Sum(nil)
}
