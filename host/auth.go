package host

import (
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"microescrow/core/state"
	"microescrow/crypto"
)

const (
	authDomain     = "microescrow/auth/v1"
	contractDomain = "microescrow/contract/v1"

	// ConstructorMethod is the method name signed by a deployer.
	ConstructorMethod = "__constructor"
)

// Authorization is a signature by Address over one invocation.
type Authorization struct {
	Address   [20]byte
	Nonce     uint64
	Signature []byte
}

// SigningPayload is the message an authorizing address signs. The chain id
// and per-address nonce make every signature single-use on one ledger.
type SigningPayload struct {
	Domain   string
	ChainID  uint64
	Contract [20]byte
	Method   string
	Args     []byte
	Signer   [20]byte
	Nonce    uint64
}

// Digest returns keccak256 of the RLP-encoded payload.
func (p SigningPayload) Digest() []byte {
	if p.Domain == "" {
		p.Domain = authDomain
	}
	encoded, err := rlp.EncodeToBytes(p)
	if err != nil {
		// Every field is RLP-encodable so this only fires on programmer error.
		panic(fmt.Sprintf("host: encode signing payload: %v", err))
	}
	return ethcrypto.Keccak256(encoded)
}

// AuthDigest returns the digest signer must sign to authorize method on
// contract with args at nonce.
func AuthDigest(chainID uint64, contract [20]byte, method string, args []byte, signer [20]byte, nonce uint64) []byte {
	return SigningPayload{
		Domain:   authDomain,
		ChainID:  chainID,
		Contract: contract,
		Method:   method,
		Args:     args,
		Signer:   signer,
		Nonce:    nonce,
	}.Digest()
}

// SignInvocation appends a signature by key to inv.
func SignInvocation(chainID uint64, inv *Invocation, key *crypto.PrivateKey, nonce uint64) error {
	signer := key.PubKey().Address().Raw()
	sig, err := key.Sign(AuthDigest(chainID, inv.Contract, inv.Method, inv.Args, signer, nonce))
	if err != nil {
		return err
	}
	inv.Auth = append(inv.Auth, Authorization{Address: signer, Nonce: nonce, Signature: sig})
	return nil
}

// SignDeployment fills d.Deployer with a signature by key.
func SignDeployment(chainID uint64, d *Deployment, key *crypto.PrivateKey, nonce uint64) error {
	signer := key.PubKey().Address().Raw()
	addr := ContractAddress(signer, d.Salt, d.Program)
	sig, err := key.Sign(AuthDigest(chainID, addr, ConstructorMethod, d.Args, signer, nonce))
	if err != nil {
		return err
	}
	d.Deployer = Authorization{Address: signer, Nonce: nonce, Signature: sig}
	return nil
}

// ContractAddress derives the deterministic address of a deployment.
func ContractAddress(deployer [20]byte, salt [32]byte, program string) [20]byte {
	encoded, err := rlp.EncodeToBytes([]interface{}{contractDomain, deployer, salt, program})
	if err != nil {
		panic(fmt.Sprintf("host: encode contract address: %v", err))
	}
	var out [20]byte
	copy(out[:], ethcrypto.Keccak256(encoded)[12:])
	return out
}

// verifyAuth checks every signature and nonce without touching state.
func (h *Host) verifyAuth(contract [20]byte, method string, args []byte, auths []Authorization) (map[[20]byte]struct{}, error) {
	signers := make(map[[20]byte]struct{}, len(auths))
	for _, auth := range auths {
		if _, dup := signers[auth.Address]; dup {
			return nil, fmt.Errorf("%w: duplicate authorization for %s", ErrAuthorizationFailed, crypto.FormatAccount(auth.Address))
		}
		digest := AuthDigest(h.chainID, contract, method, args, auth.Address, auth.Nonce)
		recovered, err := crypto.RecoverSigner(digest, auth.Signature)
		if err != nil || recovered != auth.Address {
			return nil, fmt.Errorf("%w: bad signature for %s", ErrAuthorizationFailed, crypto.FormatAccount(auth.Address))
		}
		expected, err := h.nonce(auth.Address)
		if err != nil {
			return nil, err
		}
		if auth.Nonce != expected {
			return nil, fmt.Errorf("%w: %w: %s has nonce %d, got %d", ErrAuthorizationFailed, ErrNonceMismatch,
				crypto.FormatAccount(auth.Address), expected, auth.Nonce)
		}
		signers[auth.Address] = struct{}{}
	}
	return signers, nil
}

func (h *Host) nonce(addr [20]byte) (uint64, error) {
	var n uint64
	if _, err := h.state.KVGet(state.NonceKey(addr), &n); err != nil {
		return 0, err
	}
	return n, nil
}

func (h *Host) bumpNonces(auths []Authorization) error {
	for _, auth := range auths {
		if err := h.state.KVPut(state.NonceKey(auth.Address), auth.Nonce+1); err != nil {
			return err
		}
	}
	return nil
}
