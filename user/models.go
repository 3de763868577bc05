package user

import "time"

type Role string

const (
	RoleClient     Role = "client"
	RoleFreelancer Role = "freelancer"
	RoleOperator   Role = "operator"
)

// User is the domain representation of an account. It mirrors the users
// table and carries no JSON annotations so it can be reused by different
// presentation layers.
type User struct {
	ID            string
	Email         string
	FullName      string
	PasswordHash  string
	Role          Role
	WalletAddress *string
	SBT           *ChainRecord
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ChainRecord holds the reputation-token fields filled in after an SBT
// mint. Stub marks a record minted while no chain was reachable.
type ChainRecord struct {
	TokenID uint64
	TxHash  string
	Stub    bool
}

// RegisterRequest contains account registration data supplied by callers.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Role     Role   `json:"role"`
}

// LoginRequest contains login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
