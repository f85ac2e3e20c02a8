package main

import (
	"fmt"
	"strings"
	"time"

	"videoshop/internal/service"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(title string, headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	if title != "" {
		tw.SetTitle(title)
	}

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

func money(v float64) string {
	return fmt.Sprintf("$%.2f", v)
}

// ==================== Reports ====================

func renderRunReport(rep *service.RunReport) string {
	var b strings.Builder

	s := rep.Summary
	summary := [][]string{
		{"status", s.Status},
		{"runtime", s.Runtime},
		{"products", fmt.Sprint(s.TotalProductsProcessed)},
		{"videos", fmt.Sprint(s.TotalVideosAdded)},
		{"revenue", money(rep.ProfitAnalysis.TotalRevenue)},
		{"profit", money(rep.ProfitAnalysis.TotalProfit)},
		{"margin", fmt.Sprintf("%.1f%%", rep.ProfitAnalysis.ProfitMargin)},
	}
	if s.Error != "" {
		summary = append(summary, []string{"error", s.Error})
	}
	b.WriteString(renderTable("Run", []string{"Field", "Value"}, summary, nil))

	stages := make([][]string, 0, len(rep.Stages))
	for _, st := range rep.Stages {
		stages = append(stages, []string{st.Name, fmt.Sprint(st.Count), fmt.Sprint(len(st.Errors)), st.Duration.Round(time.Millisecond).String()})
	}
	b.WriteString("\n")
	b.WriteString(renderTable("Stages", []string{"Stage", "Count", "Errors", "Took"}, stages,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight}))

	if len(rep.TopProducts) > 0 {
		products := make([][]string, 0, len(rep.TopProducts))
		for _, p := range rep.TopProducts {
			products = append(products, []string{p.Name, money(p.Price), money(p.SupplierPrice), money(p.Profit), p.Channel})
		}
		b.WriteString("\n")
		b.WriteString(renderTable("Top products", []string{"Product", "Price", "Cost", "Profit", "Channel"}, products,
			[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignLeft}))
	}

	if len(rep.Recommendations) > 0 {
		recs := make([][]string, 0, len(rep.Recommendations))
		for _, r := range rep.Recommendations {
			recs = append(recs, []string{r.Priority, r.Type, r.Message})
		}
		b.WriteString("\n")
		b.WriteString(renderTable("Recommendations", []string{"Priority", "Type", "Message"}, recs, nil))
	}
	return b.String()
}

func renderRetryReport(rep *service.RetryReport) string {
	rows := [][]string{
		{"found", fmt.Sprint(rep.Found)},
		{"retried", fmt.Sprint(rep.Retried)},
		{"recovered", fmt.Sprint(rep.Recovered)},
	}
	for _, e := range rep.Errors {
		rows = append(rows, []string{"error", e})
	}
	return renderTable("Fulfillment retry", []string{"Field", "Value"}, rows, nil)
}

func renderQuota(q service.QuotaStatus) string {
	rows := [][]string{
		{"day", q.Day},
		{"used", fmt.Sprint(q.Used)},
		{"remaining", fmt.Sprint(q.Remaining)},
		{"limit", fmt.Sprint(q.Limit)},
		{"used %", fmt.Sprintf("%.1f", q.Percentage)},
		{"exhausted", fmt.Sprint(q.Exhausted)},
	}
	return renderTable("Video quota", []string{"Field", "Value"}, rows, []columnAlignment{alignLeft, alignRight})
}
