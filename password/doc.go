// Package password hashes and verifies passwords with Argon2id.
//
// # Output format
//
// Hashes are PHC strings carrying every parameter needed to verify them:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<key>
//
// [Argon2.NeedsUpgrade] reports records made under weaker settings so the
// caller can rehash after the next successful verification.
//
// This package never stores, logs or normalizes passwords, and it does not
// import any other goGate package.
package password
