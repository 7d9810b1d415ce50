// Package password implements password hashing and verification with Argon2id.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Hasher] also verifies bcrypt hashes imported from older account stores and
// always flags them for upgrade, so they are replaced with argon2id on the next
// successful login.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords. Callers supply plaintext and receive hashes.
//   - Import any other sessionauth package.
//   - Log plaintext passwords.
package password
