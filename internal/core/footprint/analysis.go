package footprint

import (
	"math"

	"orderflow/internal/domain/model"
)

const (
	imbalanceFloor = 0.3
	clusterFactor  = 2.0
	gapFactor      = 0.1
)

// ImbalanceLevels lists the cells whose buy/sell split exceeds the floor,
// ordered by price.
func ImbalanceLevels(c *model.FootprintCandle) []model.ImbalanceLevel {
	var out []model.ImbalanceLevel
	for _, cell := range c.SortedCells() {
		total := cell.Total()
		if total <= 0 {
			continue
		}
		ratio := cell.Delta() / total
		abs := math.Abs(ratio)
		if abs <= imbalanceFloor {
			continue
		}
		out = append(out, model.ImbalanceLevel{
			Price:        cell.Price,
			BuyVolume:    cell.BuyVolume,
			SellVolume:   cell.SellVolume,
			Ratio:        ratio,
			Significance: significance(abs),
		})
	}
	return out
}

func significance(abs float64) model.ImbalanceSignificance {
	switch {
	case abs > 0.8:
		return model.SignificanceExtreme
	case abs > 0.6:
		return model.SignificanceHigh
	case abs > 0.4:
		return model.SignificanceMedium
	default:
		return model.SignificanceLow
	}
}

// SignificantLevels reports the POC, cells above twice the average cell
// volume, and interior cells below a tenth of it.
func SignificantLevels(c *model.FootprintCandle) []model.SignificantLevel {
	cells := c.SortedCells()
	if len(cells) == 0 {
		return nil
	}

	var total float64
	poc := 0
	for i, cell := range cells {
		total += cell.Total()
		if cell.Total() > cells[poc].Total() {
			poc = i
		}
	}
	out := []model.SignificantLevel{{
		Price:    cells[poc].Price,
		Kind:     model.LevelPointOfControl,
		Strength: 1,
		Volume:   cells[poc].Total(),
	}}

	avg := total / float64(len(cells))
	cluster := avg * clusterFactor
	for _, cell := range cells {
		if cell.Total() > cluster {
			out = append(out, model.SignificantLevel{
				Price:    cell.Price,
				Kind:     model.LevelVolumeCluster,
				Strength: cell.Total() / cluster,
				Volume:   cell.Total(),
			})
		}
	}

	if len(cells) < 3 {
		return out
	}
	gap := avg * gapFactor
	for _, cell := range cells[1 : len(cells)-1] {
		if cell.Total() < gap {
			out = append(out, model.SignificantLevel{
				Price:    cell.Price,
				Kind:     model.LevelVolumeGap,
				Strength: 1 - cell.Total()/gap,
				Volume:   cell.Total(),
			})
		}
	}
	return out
}
