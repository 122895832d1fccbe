package horst

// SecretKeyData is the serializable form of a SecretKey: its leaf secrets,
// from which the Merkle tree can be rebuilt deterministically. Persisting
// only the leaves (and not the derived tree nodes) keeps the on-disk state
// small and immune to a hash-function change needing a migration format.
type SecretKeyData struct {
	Leaves [][]byte
}

// Export captures a SecretKey's leaves for persistence.
func (sk *SecretKey) Export() SecretKeyData {
	leaves := make([][]byte, len(sk.leaves))
	for i, l := range sk.leaves {
		c := make([]byte, len(l))
		copy(c, l)
		leaves[i] = c
	}
	return SecretKeyData{Leaves: leaves}
}

// ImportSecretKey rebuilds a SecretKey from previously exported leaves,
// recomputing the Merkle tree over them. threads controls leaf-hashing
// parallelism exactly as in GenerateKeyPair.
func ImportSecretKey(p Params, data SecretKeyData, threads int) (*SecretKey, error) {
	tr, err := buildTree(data.Leaves, p.TreeHash, threads)
	if err != nil {
		return nil, err
	}
	return &SecretKey{leaves: data.Leaves, tree: tr}, nil
}
