package main

import (
	"fmt"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var policiesCmd = &cobra.Command{
	Use:   "policies",
	Short: "Таблица политик",
}

// policiesValidateCmd проверяет таблицу так же, как при старте шлюза, без подключения к хранилищу
var policiesValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Проверить таблицу политик из конфига",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}

		table, err := cfg.Governor.ToGovernor().Table()
		if err != nil {
			return fmt.Errorf("policy table is invalid:\n%w", err)
		}

		data := pterm.TableData{{"Роль", "Префикс", "Лимит", "Окно, с"}}
		for _, p := range table.Policies() {
			data = append(data, []string{
				string(p.Role), p.EndpointPrefix,
				strconv.FormatInt(p.Requests, 10), strconv.FormatInt(p.WindowSeconds, 10),
			})
		}
		_ = pterm.DefaultTable.WithHasHeader(true).WithData(data).Render()

		g := table.GlobalDefault()
		pterm.Success.Println(fmt.Sprintf("таблица корректна, глобальный default %d/%ds", g.Requests, g.WindowSeconds))
		return nil
	},
}

func init() {
	policiesCmd.AddCommand(policiesValidateCmd)
}
