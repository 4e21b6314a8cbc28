// Package ethereum talks to badge and credential contracts over EVM JSON-RPC
// and provides secp256k1-backed wallet accounts.
package ethereum

// CredentialNFTABI is the subset of an enumerable ERC-721 with an owner-only
// mint that both the badge and the credential contracts expose.
const CredentialNFTABI = `[
	{"type":"function","name":"balanceOf","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"tokenOfOwnerByIndex","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"},{"name":"index","type":"uint256"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"tokenURI","stateMutability":"view",
	 "inputs":[{"name":"tokenId","type":"uint256"}],
	 "outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"mint","stateMutability":"nonpayable",
	 "inputs":[{"name":"to","type":"address"},{"name":"tokenId","type":"uint256"},{"name":"uri","type":"string"}],
	 "outputs":[]},
	{"type":"event","name":"Transfer","anonymous":false,
	 "inputs":[{"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true},{"name":"tokenId","type":"uint256","indexed":true}]}
]`
