package event

import "github.com/hitoshi/eventman/internal/model"

// Decision は所有権チェックの判定結果を表す。
type Decision int

const (
	// DecisionAllow はアクセスを許可する判定。
	DecisionAllow Decision = iota
	// DecisionNotFound はイベントが存在しない判定。
	DecisionNotFound
	// DecisionDenied は所有者以外によるアクセスの判定。
	// 外部向けレスポンスではDecisionNotFoundと区別してはならない。
	DecisionDenied
)

// Authorize はイベントへのアクセス可否を判定する。
// 副作用を持たない純粋な判定であり、ログやメトリクスの記録は呼び出し側が行う。
func Authorize(event *model.Event, userID string) Decision {
	if event == nil {
		return DecisionNotFound
	}
	if !event.OwnedBy(userID) {
		return DecisionDenied
	}
	return DecisionAllow
}
