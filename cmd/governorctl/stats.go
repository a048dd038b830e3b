package main

import (
	"fmt"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/xela07ax/ratewarden/internal/domain"
)

var statsHorizon int64

// statsCmd печатает сводку по хранилищу учета
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Статистика запросов за горизонт",
	RunE: func(cmd *cobra.Command, args []string) error {
		if statsHorizon <= 0 {
			return fmt.Errorf("--horizon must be positive")
		}
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		report, err := rt.Admin.GetStats(cmd.Context(), statsHorizon)
		if err != nil {
			return err
		}
		renderStats(report)
		return nil
	},
}

func init() {
	statsCmd.Flags().Int64Var(&statsHorizon, "horizon", 3600, "горизонт в секундах")
}

func renderStats(r domain.StatsReport) {
	pterm.DefaultSection.Println(fmt.Sprintf("За %d с: %d запросов", r.HorizonSeconds, r.TotalRequests))
	if r.TotalRequests == 0 {
		pterm.Info.Println("записей нет")
		return
	}

	endpoints := pterm.TableData{{"Эндпоинт", "Запросов", "Личностей"}}
	for _, e := range r.Endpoints {
		endpoints = append(endpoints, []string{e.EndpointKey, strconv.FormatInt(e.Requests, 10), strconv.Itoa(e.DistinctIdentities)})
	}
	_ = pterm.DefaultTable.WithHasHeader(true).WithData(endpoints).Render()

	pterm.DefaultSection.Println("Самые активные")
	identities := pterm.TableData{{"Личность", "Запросов", "Эндпоинтов"}}
	for _, i := range r.TopIdentities {
		identities = append(identities, []string{i.Identity, strconv.FormatInt(i.Requests, 10), strconv.Itoa(i.DistinctEndpoints)})
	}
	_ = pterm.DefaultTable.WithHasHeader(true).WithData(identities).Render()

	pterm.DefaultSection.Println("По часам (UTC)")
	hourly := pterm.TableData{{"Час", "Запросов"}}
	for _, p := range r.HourlyActivity {
		hourly = append(hourly, []string{p.Hour.Format("2006-01-02 15:04"), strconv.FormatInt(p.Count, 10)})
	}
	_ = pterm.DefaultTable.WithHasHeader(true).WithData(hourly).Render()
}
