package store

import (
	"time"

	"github.com/BaSui01/chainflow/types"
)

// Execution is one run of a workflow.
type Execution struct {
	ID           string                `gorm:"primaryKey;size:36" json:"id"`
	WorkflowID   string                `gorm:"size:64;index" json:"workflow_id"`
	WorkflowName string                `gorm:"size:255" json:"workflow_name"`
	Definition   JSONDocument          `gorm:"type:text" json:"definition,omitempty"`
	Status       types.ExecutionStatus `gorm:"size:16;index" json:"status"`
	Payload      JSONMap               `gorm:"type:text" json:"payload,omitempty"`
	Error        string                `gorm:"type:text" json:"error,omitempty"`
	StartedAt    *time.Time            `json:"started_at,omitempty"`
	FinishedAt   *time.Time            `json:"finished_at,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`

	Nodes []NodeExecution `gorm:"foreignKey:ExecutionID" json:"nodes,omitempty"`
}

func (Execution) TableName() string { return "executions" }

// NodeExecution is the state of a single node within an execution.
// Dispatch goes through a claim: a worker flips Status from pending to
// running with a conditional update, so concurrent schedulers cannot
// both run the same attempt.
type NodeExecution struct {
	ID          string           `gorm:"primaryKey;size:36" json:"id"`
	ExecutionID string           `gorm:"size:36;uniqueIndex:idx_exec_node,priority:1" json:"execution_id"`
	NodeID      string           `gorm:"size:64;uniqueIndex:idx_exec_node,priority:2" json:"node_id"`
	BlockType   string           `gorm:"size:64" json:"block_type"`
	Status      types.NodeStatus `gorm:"size:16;index" json:"status"`
	Attempt     int              `json:"attempt"`
	MaxRetries  int              `json:"max_retries"`
	Inputs      JSONMap          `gorm:"type:text" json:"inputs,omitempty"`
	Outputs     JSONMap          `gorm:"type:text" json:"outputs,omitempty"`
	Error       string           `gorm:"type:text" json:"error,omitempty"`
	ClaimedBy   string           `gorm:"size:64;index" json:"claimed_by,omitempty"`
	HeartbeatAt *time.Time       `gorm:"index" json:"heartbeat_at,omitempty"`
	NextRetryAt *time.Time       `json:"next_retry_at,omitempty"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	FinishedAt  *time.Time       `json:"finished_at,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

func (NodeExecution) TableName() string { return "node_executions" }

// ExecutionLog is an append-only audit line.
type ExecutionLog struct {
	ID          uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	ExecutionID string         `gorm:"size:36;index" json:"execution_id"`
	NodeID      string         `gorm:"size:64" json:"node_id,omitempty"`
	Level       types.LogLevel `gorm:"size:8" json:"level"`
	Message     string         `gorm:"type:text" json:"message"`
	Fields      JSONMap        `gorm:"type:text" json:"fields,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

func (ExecutionLog) TableName() string { return "execution_logs" }

// PauseSnapshot records why an execution stopped and what input it
// needs before it can continue. ResumedAt is set exactly once.
type PauseSnapshot struct {
	ID           string     `gorm:"primaryKey;size:36" json:"id"`
	ExecutionID  string     `gorm:"size:36;index" json:"execution_id"`
	NodeID       string     `gorm:"size:64" json:"node_id"`
	Reason       string     `gorm:"type:text" json:"reason"`
	WaitKey      string     `gorm:"size:255;index" json:"wait_key"`
	PendingInput JSONMap    `gorm:"type:text" json:"pending_input,omitempty"`
	ResumeData   JSONMap    `gorm:"type:text" json:"resume_data,omitempty"`
	ResumedAt    *time.Time `json:"resumed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

func (PauseSnapshot) TableName() string { return "pause_snapshots" }

// Transaction lifecycle states.
const (
	TxStatusSubmitted = "submitted"
	TxStatusConfirmed = "confirmed"
	TxStatusFailed    = "failed"
)

// Attempt lifecycle states. A transaction has at most one pending
// attempt; a gas bump replaces it and opens a new one.
const (
	AttemptStatusPending  = "pending"
	AttemptStatusMined    = "mined"
	AttemptStatusReplaced = "replaced"
	AttemptStatusFailed   = "failed"
)

// ChainTransaction is a logical on-chain transaction owned by one
// chain_tx node. Physical broadcasts live in its attempts.
type ChainTransaction struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	ExecutionID string    `gorm:"size:36;index" json:"execution_id"`
	NodeID      string    `gorm:"size:64" json:"node_id"`
	ChainID     int64     `json:"chain_id"`
	ToAddress   string    `gorm:"size:64" json:"to_address"`
	Value       string    `gorm:"size:80" json:"value"`
	Data        string    `gorm:"type:text" json:"data,omitempty"`
	Nonce       uint64    `json:"nonce"`
	Status      string    `gorm:"size:16;index" json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	Attempts []TransactionAttempt `gorm:"foreignKey:TransactionID" json:"attempts,omitempty"`
}

func (ChainTransaction) TableName() string { return "chain_transactions" }

// TransactionAttempt is one signed broadcast of a transaction. The tx
// hash changes per attempt because the gas price does.
type TransactionAttempt struct {
	ID            string     `gorm:"primaryKey;size:36" json:"id"`
	TransactionID string     `gorm:"size:36;index" json:"transaction_id"`
	TxHash        string     `gorm:"size:80;uniqueIndex" json:"tx_hash"`
	GasPrice      string     `gorm:"size:80" json:"gas_price"`
	Status        string     `gorm:"size:16;index" json:"status"`
	BlockNumber   *uint64    `json:"block_number,omitempty"`
	GasUsed       *uint64    `json:"gas_used,omitempty"`
	SubmittedAt   time.Time  `json:"submitted_at"`
	MinedAt       *time.Time `json:"mined_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func (TransactionAttempt) TableName() string { return "transaction_attempts" }
