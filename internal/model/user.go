package model

import "time"

// Roles assignable to a user. Admins may operate on other users'
// subscriptions; regular users only on their own.
const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// User represents an application user record as stored in the
// `users` table. Each field corresponds to a column in the
// database. The json tags are omitted here because these structs
// are primarily used internally by the repository layer; handlers
// define separate response types with appropriate JSON tags.
//
// Fields:
//  ID               – primary key identifier of the user.
//  ExternalID       – opaque identifier issued by the external identity provider (nullable).
//  Email            – unique email address.
//  PasswordHash     – bcrypt hashed password (empty for identity-provider accounts).
//  Name             – display name shown in the UI.
//  Picture          – avatar URL from the identity provider, if any.
//  Role             – USER or ADMIN.
//  StripeCustomerID – payment provider customer reference (nullable until first checkout).
//  LifetimeUsage    – denormalized count of all documents ever generated.
//  LastLoginAt      – timestamp of the most recent successful login.
//  CreatedAt        – timestamp of creation.
//  UpdatedAt        – timestamp of last update.
type User struct {
	ID               uint64     // users.id
	ExternalID       *string    // users.external_id (nullable)
	Email            string     // users.email
	PasswordHash     string     // users.password_hash
	Name             string     // users.name
	Picture          *string    // users.picture (nullable)
	Role             string     // users.role
	StripeCustomerID *string    // users.stripe_customer_id (nullable)
	LifetimeUsage    uint64     // users.lifetime_usage
	LastLoginAt      *time.Time // users.last_login_at (nullable)
	CreatedAt        time.Time  // users.created_at
	UpdatedAt        time.Time  // users.updated_at
}

// RefreshToken models an entry in the `refresh_tokens` table.  Each
// refresh token belongs to a user and contains metadata for expiry
// and revocation.  The plain token is not stored; only its
// SHA-256 hash.
//
// Fields:
//  ID        – primary key identifier.
//  UserID    – owner of the token.
//  TokenHash – SHA-256 hex digest of the token value.
//  ExpiresAt – expiration timestamp of the token.
//  RevokedAt – when the token was revoked (null if still active).
//  CreatedAt – timestamp of creation.
type RefreshToken struct {
	ID        uint64     // refresh_tokens.id
	UserID    uint64     // refresh_tokens.user_id
	TokenHash string     // refresh_tokens.token_hash
	ExpiresAt time.Time  // refresh_tokens.expires_at
	RevokedAt *time.Time // refresh_tokens.revoked_at (nullable)
	CreatedAt time.Time  // refresh_tokens.created_at
}
