package strategy

import (
	"math"

	"bybit-hedge-bot/internal/config"
)

// NextAction decides what, if anything, a side should do at the observed
// drawdown. Rules are evaluated strictly in order:
//
//  1. drawdown below the trigger: nothing.
//  2. no position yet: open the initial leg, clipped to the cap.
//  3. scale-in disabled, legs exhausted, or cap consumed: cap reached.
//  4. leg k (k = LegsFilled) fires at trigger + k*step, sized to the
//     remaining headroom under the cap.
//  5. otherwise nothing.
//
// Each successive leg requires strictly deeper drawdown than the last, so
// a single noisy tick cannot consume several legs at once.
func NextAction(pos Position, drawdownPct float64, cfg config.HedgeConfig) Action {
	if drawdownPct < cfg.TriggerDropPct {
		return Action{Kind: ActionNone}
	}
	if pos.LegsFilled == 0 {
		return Action{
			Kind:        ActionOpenInitial,
			LegIndex:    0,
			NotionalUSD: math.Min(cfg.USDPositionSize, cfg.MaxUSDPosition),
		}
	}
	if !cfg.EnableScaleIn || pos.LegsFilled >= cfg.ScaleInLegs || pos.TotalNotionalUSD >= cfg.MaxUSDPosition {
		return Action{Kind: ActionCapReached}
	}
	required := cfg.TriggerDropPct + float64(pos.LegsFilled)*cfg.ScaleInDropStep
	if drawdownPct >= required {
		return Action{
			Kind:        ActionScaleIn,
			LegIndex:    pos.LegsFilled,
			NotionalUSD: math.Min(cfg.USDPositionSize, cfg.MaxUSDPosition-pos.TotalNotionalUSD),
		}
	}
	return Action{Kind: ActionNone}
}
