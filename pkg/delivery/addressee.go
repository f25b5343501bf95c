package delivery

import "github.com/cccc-dev/cccc/pkg/kernel"

// AddresseeKind classifies one resolved recipient of a chat.message.
type AddresseeKind int

const (
	AddresseeActor AddresseeKind = iota
	AddresseeUser
	AddresseeUnknown
)

// Addressee is one resolved recipient of a chat.message's to[].
type Addressee struct {
	Kind    AddresseeKind
	ActorID string // set when Kind == AddresseeActor
	Token   string // the original to[] token, set when Kind == AddresseeUnknown
}

// resolveAddressees expands a chat.message's to[] into concrete recipients
// against view. Unlike the kernel's internal recipient resolution (used only
// to track pending-ack/obligation sets), this expansion also resolves the
// "user" token and reports unknown ids explicitly, matching the delivery
// pipeline's addressing rules rather than the ack-bookkeeping rules.
func resolveAddressees(view *kernel.GroupView, to []string) []Addressee {
	tokens := to
	if len(tokens) == 0 {
		tokens = allAndUserTokens(view)
	}

	seen := make(map[string]bool)
	var out []Addressee
	addActor := func(id string) {
		key := "actor:" + id
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, Addressee{Kind: AddresseeActor, ActorID: id})
	}
	addUser := func() {
		if seen["user"] {
			return
		}
		seen["user"] = true
		out = append(out, Addressee{Kind: AddresseeUser})
	}

	for _, token := range tokens {
		switch token {
		case "@all":
			for id, a := range view.Actors {
				if a.Enabled {
					addActor(id)
				}
			}
		case "@peers":
			for id, a := range view.Actors {
				if a.Enabled && a.Role != "foreman" {
					addActor(id)
				}
			}
		case "@foreman":
			if f := view.Foreman(); f != nil {
				addActor(f.ActorID)
			}
		case "user":
			addUser()
		default:
			if _, ok := view.Actors[token]; ok {
				addActor(token)
			} else {
				out = append(out, Addressee{Kind: AddresseeUnknown, Token: token})
			}
		}
	}
	return out
}

// allAndUserTokens is the default addressee set for an empty to[]: the user
// plus every enabled actor.
func allAndUserTokens(view *kernel.GroupView) []string {
	tokens := []string{"user"}
	for id, a := range view.Actors {
		if a.Enabled {
			tokens = append(tokens, id)
		}
	}
	return tokens
}
