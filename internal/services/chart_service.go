package services

import (
	"bytes"
	"fmt"
	"time"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

// ChartService renders dashboard analytics as PNGs (used by the revenue
// chart endpoint and embedded in notification messages)
type ChartService struct{}

func NewChartService() *ChartService {
	return &ChartService{}
}

// GenerateRevenueChartPNG renders a tool's daily earnings as a line chart
func (s *ChartService) GenerateRevenueChartPNG(toolName string, series []DailyRevenue) ([]byte, error) {
	if len(series) < 2 {
		return nil, fmt.Errorf("not enough data points to generate a chart")
	}

	var xValues []time.Time
	var yValues []float64

	for _, d := range series {
		xValues = append(xValues, d.Day)
		yValues = append(yValues, float64(d.Earned))
	}

	graph := chart.Chart{
		Title: toolName + " - Daily Revenue",
		TitleStyle: chart.Style{
			FontColor: drawing.ColorWhite,
			FontSize:  16,
		},
		Background: chart.Style{
			FillColor: drawing.ColorFromHex("1e1e2e"),
		},
		Canvas: chart.Style{
			FillColor: drawing.ColorFromHex("181825"),
		},
		XAxis: chart.XAxis{
			Name: "Day",
			NameStyle: chart.Style{
				FontColor: drawing.ColorWhite,
			},
			Style: chart.Style{
				FontColor:   drawing.ColorWhite,
				StrokeColor: drawing.ColorWhite,
			},
			ValueFormatter: chart.TimeValueFormatterWithFormat("Jan 02"),
		},
		YAxis: chart.YAxis{
			Name: "Credits",
			NameStyle: chart.Style{
				FontColor: drawing.ColorWhite,
			},
			Style: chart.Style{
				FontColor:   drawing.ColorWhite,
				StrokeColor: drawing.ColorWhite,
			},
			ValueFormatter: func(v interface{}) string {
				if typed, ok := v.(float64); ok {
					if typed >= 1000000 {
						return fmt.Sprintf("%.1fM", typed/1000000)
					}
					if typed >= 1000 {
						return fmt.Sprintf("%.1fK", typed/1000)
					}
					return fmt.Sprintf("%.0f", typed)
				}
				return ""
			},
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Earned",
				XValues: xValues,
				YValues: yValues,
				Style: chart.Style{
					StrokeColor: drawing.ColorFromHex("22c55e"),
					StrokeWidth: 3.0,
				},
			},
		},
	}

	buffer := bytes.NewBuffer([]byte{})
	err := graph.Render(chart.PNG, buffer)
	if err != nil {
		return nil, err
	}

	return buffer.Bytes(), nil
}
