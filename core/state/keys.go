package state

var (
	contractPrefix = []byte("contract/code/")
	storagePrefix  = []byte("contract/storage/")
	noncePrefix    = []byte("auth/nonce/")
)

// ContractKey locates the deployment record of a contract instance.
func ContractKey(addr [20]byte) []byte {
	return appendParts(contractPrefix, addr[:])
}

// InstanceStorageKey scopes a contract-chosen storage key to its instance so
// two deployments never observe each other's data.
func InstanceStorageKey(addr [20]byte, key []byte) []byte {
	return appendParts(storagePrefix, addr[:], []byte{'/'}, key)
}

// NonceKey locates the next expected authorization nonce for addr.
func NonceKey(addr [20]byte) []byte {
	return appendParts(noncePrefix, addr[:])
}

func appendParts(parts ...[]byte) []byte {
	size := 0
	for _, p := range parts {
		size += len(p)
	}
	buf := make([]byte, 0, size)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return buf
}
