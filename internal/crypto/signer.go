package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// --------------------------------------------------------------------------
// EIP-712 type hashes (pre-computed keccak256 of the canonical type strings).
// --------------------------------------------------------------------------

var (
	// EIP712Domain(string name,string version,uint256 chainId)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)

	// Settlement(uint256 listingId,address collection,uint256 tokenId,address seller,address winner,uint256 price,uint256 sellerShare,uint256 platformShare,uint256 settledAt)
	settlementTypeHash = ethcrypto.Keccak256(
		[]byte("Settlement(uint256 listingId,address collection,uint256 tokenId,address seller,address winner,uint256 price,uint256 sellerShare,uint256 platformShare,uint256 settledAt)"),
	)
)

// settlementDomainName is the EIP-712 domain under which settlement receipts
// are signed. Verifiers must use the same name and version.
const (
	settlementDomainName    = "GalleriaSettlement"
	settlementDomainVersion = "1"
)

// Receipt is the settlement receipt the operator signs when a listing
// concludes. A buyer or group can present the receipt plus signature to any
// third party as proof the marketplace settled the sale at these terms.
type Receipt struct {
	ListingID     int64  `json:"listing_id"`
	Collection    string `json:"collection"`
	TokenID       int    `json:"token_id"`
	Seller        string `json:"seller"`
	Winner        string `json:"winner"`
	Price         int64  `json:"price"`
	SellerShare   int64  `json:"seller_share"`
	PlatformShare int64  `json:"platform_share"`
	SettledAt     int64  `json:"settled_at"` // unix seconds
}

// Signer produces EIP-712 signatures over settlement receipts using the
// operator's secp256k1 key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	domainSep  []byte // cached EIP-712 domain separator hash
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key and
// the chain id the receipts are scoped to.
func NewSigner(privateKeyHex string, chainID int) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}

	s := &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}
	s.domainSep = buildDomainSeparator(settlementDomainName, settlementDomainVersion, chainID)

	return s, nil
}

// Address returns the address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignReceipt signs a settlement receipt and returns a hex-encoded 65-byte
// signature (r || s || v).
func (s *Signer) SignReceipt(r Receipt) (string, error) {
	digest := eip712Hash(s.domainSep, receiptStructHash(r))

	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing receipt %d: %w", r.ListingID, err)
	}

	// go-ethereum returns v in {0,1}; EIP-712 expects v in {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}

	return "0x" + hex.EncodeToString(sig), nil
}

// RecoverReceiptSigner recovers the address that signed the receipt. The
// verifier must reconstruct the digest with the same domain parameters the
// operator used.
func RecoverReceiptSigner(r Receipt, sigHex string, chainID int) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: invalid signature hex: %w", err)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto/signer: expected 65-byte signature, got %d", len(sig))
	}

	// Undo the EIP-712 recovery id offset for go-ethereum.
	recovery := make([]byte, 65)
	copy(recovery, sig)
	if recovery[64] >= 27 {
		recovery[64] -= 27
	}

	domainSep := buildDomainSeparator(settlementDomainName, settlementDomainVersion, chainID)
	digest := eip712Hash(domainSep, receiptStructHash(r))

	pub, err := ethcrypto.SigToPub(digest, recovery)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recovering signer: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// buildDomainSeparator returns keccak256(abi.encode(typeHash, nameHash, versionHash, chainId)).
func buildDomainSeparator(name, version string, chainID int) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte(name)),
			ethcrypto.Keccak256([]byte(version)),
			bigIntTo32Bytes(big.NewInt(int64(chainID))),
		),
	)
}

// eip712Hash computes the final EIP-712 digest:
//
//	keccak256("\x19\x01" || domainSeparator || structHash)
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			[]byte{0x19, 0x01},
			domainSep,
			structHash,
		),
	)
}

// receiptStructHash encodes and hashes a Receipt according to EIP-712.
func receiptStructHash(r Receipt) []byte {
	collection := common.HexToAddress(r.Collection)
	seller := common.HexToAddress(r.Seller)
	winner := common.HexToAddress(r.Winner)

	return ethcrypto.Keccak256(
		concatBytes(
			settlementTypeHash,
			bigIntTo32Bytes(big.NewInt(r.ListingID)),
			common.LeftPadBytes(collection.Bytes(), 32),
			bigIntTo32Bytes(big.NewInt(int64(r.TokenID))),
			common.LeftPadBytes(seller.Bytes(), 32),
			common.LeftPadBytes(winner.Bytes(), 32),
			bigIntTo32Bytes(big.NewInt(r.Price)),
			bigIntTo32Bytes(big.NewInt(r.SellerShare)),
			bigIntTo32Bytes(big.NewInt(r.PlatformShare)),
			bigIntTo32Bytes(big.NewInt(r.SettledAt)),
		),
	)
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

// concatBytes concatenates multiple byte slices into one.
func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
