package domain

import "fmt"

// ActionName identifies a portfolio level operation.
type ActionName string

const (
	ActionZapIn               ActionName = "zapIn"
	ActionZapOut              ActionName = "zapOut"
	ActionRebalance           ActionName = "rebalance"
	ActionCrossChainRebalance ActionName = "crossChainRebalance"
	ActionLocalRebalance      ActionName = "localRebalance"
	ActionTransfer            ActionName = "transfer"
	ActionStake               ActionName = "stake"
	ActionClaimAndSwap        ActionName = "claimAndSwap"
)

// ParseActionName validates a raw action name.
func ParseActionName(s string) (ActionName, error) {
	switch a := ActionName(s); a {
	case ActionZapIn, ActionZapOut, ActionRebalance, ActionCrossChainRebalance,
		ActionLocalRebalance, ActionTransfer, ActionStake, ActionClaimAndSwap:
		return a, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidAction, s)
}

// IsRebalance reports whether the action belongs to the rebalance family.
func (a ActionName) IsRebalance() bool {
	return a == ActionRebalance || a == ActionCrossChainRebalance || a == ActionLocalRebalance
}
