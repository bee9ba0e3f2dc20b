// Package mirrorresolve resolves video mirror references into playable URLs.
//
// Features:
//   - Packed-script unpacking and base-N symbol decoding
//   - CryptoJS-compatible AES envelope decryption with key reconstruction
//   - Per-provider resolvers with embed fallback and secure-service retries
package mirrorresolve
