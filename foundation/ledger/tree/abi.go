package tree

// treeABI is the interface of the Tree contract that stores carvings.
const treeABI = `[
	{
		"type": "function",
		"name": "carve",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "carvingId", "type": "bytes32"},
			{"name": "carvingTo", "type": "string"},
			{"name": "carvingFrom", "type": "string"},
			{"name": "carvingMessage", "type": "string"},
			{"name": "carvingProperties", "type": "bytes31"}
		],
		"outputs": []
	},
	{
		"type": "function",
		"name": "read",
		"stateMutability": "view",
		"inputs": [
			{"name": "carvingId", "type": "bytes32"}
		],
		"outputs": [
			{"name": "to", "type": "string"},
			{"name": "from", "type": "string"},
			{"name": "message", "type": "string"},
			{"name": "properties", "type": "bytes31"}
		]
	},
	{
		"type": "function",
		"name": "peruse",
		"stateMutability": "view",
		"inputs": [],
		"outputs": [
			{"name": "", "type": "bytes32[]"}
		]
	},
	{
		"type": "function",
		"name": "scratch",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "carvingId", "type": "bytes32"}
		],
		"outputs": []
	},
	{
		"type": "event",
		"name": "CarvingStored",
		"anonymous": false,
		"inputs": [
			{"name": "carvingId", "type": "bytes32", "indexed": true},
			{"name": "to", "type": "string", "indexed": false},
			{"name": "from", "type": "string", "indexed": false},
			{"name": "message", "type": "string", "indexed": false},
			{"name": "properties", "type": "bytes31", "indexed": false}
		]
	},
	{
		"type": "event",
		"name": "CarvingDeleted",
		"anonymous": false,
		"inputs": [
			{"name": "carvingId", "type": "bytes32", "indexed": true}
		]
	}
]`

// Names of the contract events mirrored locally.
const (
	eventStored  = "CarvingStored"
	eventDeleted = "CarvingDeleted"
)
