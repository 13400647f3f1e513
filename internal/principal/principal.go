package principal

import (
	"encoding/json"
	"fmt"
)

type Kind int           // principal kind (admin|service_account)
type CredentialType int // principal credential type (login|session|basic|bearer)

type Principal struct {
	ID             string         `json:"id"`   // user id for admins, account id for service accounts
	PrincipalType  Kind           `json:"kind"` // string marshaled
	CredentialType CredentialType `json:"-"`    // derived per request from the presented credential; never persisted
}

const (
	Admin          Kind = iota // Index-pool Admin
	ServiceAccount             // Index-pool Service Account
)

const (
	Login   CredentialType = iota // Auth via login form (username/password)
	Session                       // Auth via cookie-based session
	Basic                         // Auth via http basic (username/password)
	Bearer                        // Auth via http bearer (token)
)

func (k Kind) String() string {
	switch k {
	case Admin:
		return "admin"
	case ServiceAccount:
		return "service_account"
	default:
		return "unknown"
	}
}

// MarshalJSON makes Kind serialize as string
func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON makes Kind deserialize from string
func (k *Kind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "admin":
		*k = Admin
	case "service_account":
		*k = ServiceAccount
	default:
		return fmt.Errorf("invalid Kind: %s", s)
	}
	return nil
}

func (a CredentialType) String() string {
	switch a {
	case Login:
		return "login"
	case Session:
		return "session"
	case Basic:
		return "basic"
	case Bearer:
		return "bearer"
	default:
		return "unknown"
	}
}
