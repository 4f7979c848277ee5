package cmt

// Config defines the shape of a Cartesian Merkle tree.
type Config struct {
	// The width in bytes of every key stored in the tree. Must divide into
	// the sibling hash width, i.e. be at most HashSize.
	KeysByteLength int

	// DesiredProofLength is the default number of sibling entries proofs are
	// padded to, hiding the true depth of short search paths. Zero disables
	// padding.
	DesiredProofLength int

	// HasherId selects the hash function through the dispatch table. Only
	// the tag is ever persisted.
	HasherId HasherId

	// Salt is mixed into priority derivation. Fixed at tree creation.
	Salt []byte
}

// NewConfig makes a new config object. keysByteLength is the width of the
// keys the tree will store, desiredProofLength the default padding target
// for proofs (in sibling entries), and hasherId the hash function tag.
func NewConfig(keysByteLength int, desiredProofLength int, hasherId HasherId, salt []byte) (Config, error) {
	if keysByteLength < 1 || keysByteLength > HashSize {
		return Config{}, NewInvalidConfigError("key byte length must be between 1 and the hash width")
	}
	if desiredProofLength < 0 || desiredProofLength%2 != 0 {
		return Config{}, NewInvalidConfigError("desired proof length must be a non-negative even number of siblings")
	}
	if _, err := resolveHasher(hasherId); err != nil {
		return Config{}, NewInvalidConfigError(err.Error())
	}
	return Config{
		KeysByteLength:     keysByteLength,
		DesiredProofLength: desiredProofLength,
		HasherId:           hasherId,
		Salt:               salt,
	}, nil
}

// NewSaltedConfig is NewConfig with a fresh random 16 byte priority salt.
func NewSaltedConfig(keysByteLength int, desiredProofLength int, hasherId HasherId) (Config, error) {
	salt, err := RandomBytes(16)
	if err != nil {
		return Config{}, err
	}
	return NewConfig(keysByteLength, desiredProofLength, hasherId, salt)
}
