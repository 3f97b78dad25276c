package contracts

// MailEscrowABI is the call surface of the deployed MailEscrow contract.
// Kept in sync with contracts/MailEscrow.sol in the contracts repo.
const MailEscrowABI = `[
  {
    "type": "function",
    "name": "createTransfer",
    "stateMutability": "nonpayable",
    "inputs": [
      {
        "name": "transfer",
        "type": "tuple",
        "components": [
          {"name": "transferId", "type": "bytes32"},
          {"name": "sender", "type": "address"},
          {"name": "fundingWallet", "type": "address"},
          {"name": "token", "type": "address"},
          {"name": "amount", "type": "uint96"},
          {"name": "recipientHash", "type": "bytes32"},
          {"name": "expiry", "type": "uint40"}
        ]
      },
      {"name": "permit", "type": "bytes"}
    ],
    "outputs": []
  },
  {
    "type": "function",
    "name": "claimTransfer",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "transferId", "type": "bytes32"},
      {"name": "recipient", "type": "address"},
      {"name": "recipientHash", "type": "bytes32"}
    ],
    "outputs": []
  },
  {
    "type": "function",
    "name": "refundTransfer",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "transferId", "type": "bytes32"},
      {"name": "refundAddress", "type": "address"}
    ],
    "outputs": []
  },
  {
    "type": "function",
    "name": "getTransfer",
    "stateMutability": "view",
    "inputs": [{"name": "transferId", "type": "bytes32"}],
    "outputs": [
      {
        "name": "record",
        "type": "tuple",
        "components": [
          {"name": "sender", "type": "address"},
          {"name": "token", "type": "address"},
          {"name": "amount", "type": "uint96"},
          {"name": "recipientHash", "type": "bytes32"},
          {"name": "expiry", "type": "uint40"},
          {"name": "status", "type": "uint8"}
        ]
      }
    ]
  },
  {
    "type": "function",
    "name": "lockedBalance",
    "stateMutability": "view",
    "inputs": [{"name": "token", "type": "address"}],
    "outputs": [{"name": "", "type": "uint256"}]
  },
  {
    "type": "function",
    "name": "pause",
    "stateMutability": "nonpayable",
    "inputs": [],
    "outputs": []
  },
  {
    "type": "function",
    "name": "paused",
    "stateMutability": "view",
    "inputs": [],
    "outputs": [{"name": "", "type": "bool"}]
  },
  {
    "type": "event",
    "name": "TransferCreated",
    "inputs": [
      {"name": "transferId", "type": "bytes32", "indexed": true},
      {"name": "sender", "type": "address", "indexed": true},
      {"name": "recipientHash", "type": "bytes32", "indexed": false},
      {"name": "token", "type": "address", "indexed": false},
      {"name": "amount", "type": "uint96", "indexed": false},
      {"name": "expiry", "type": "uint40", "indexed": false}
    ]
  },
  {
    "type": "event",
    "name": "TransferClaimed",
    "inputs": [
      {"name": "transferId", "type": "bytes32", "indexed": true},
      {"name": "recipient", "type": "address", "indexed": true},
      {"name": "amount", "type": "uint96", "indexed": false}
    ]
  },
  {
    "type": "event",
    "name": "TransferRefunded",
    "inputs": [
      {"name": "transferId", "type": "bytes32", "indexed": true},
      {"name": "refundAddress", "type": "address", "indexed": true},
      {"name": "amount", "type": "uint96", "indexed": false}
    ]
  }
]`
