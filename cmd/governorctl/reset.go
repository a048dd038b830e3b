package main

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var resetEndpoint string

// resetCmd снимает ограничения с личности
var resetCmd = &cobra.Command{
	Use:   "reset <identity>",
	Short: "Сбросить счетчики личности",
	Long: `Удаляет записи учета личности, после чего ее запросы снова проходят.

Примеры:
  governorctl reset user:42
  governorctl reset ip:203.0.113.7 --endpoint /api/auth/login`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		deleted, err := rt.Admin.ResetLimits(cmd.Context(), args[0], resetEndpoint)
		if err != nil {
			return err
		}

		scope := "все эндпоинты"
		if resetEndpoint != "" {
			scope = resetEndpoint
		}
		pterm.Success.Println(fmt.Sprintf("%s (%s): удалено записей %d", args[0], scope, deleted))
		return nil
	},
}

func init() {
	resetCmd.Flags().StringVarP(&resetEndpoint, "endpoint", "e", "", "ключ эндпоинта или путь; пусто: все")
}
