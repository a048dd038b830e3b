package main

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// sweepCmd: внеплановая очистка по горизонту хранения
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Удалить записи старше горизонта хранения",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		deleted, err := rt.Sweeper.RunOnce(cmd.Context())
		if err != nil {
			return err
		}
		pterm.Success.Println(fmt.Sprintf("удалено записей: %d (горизонт %s)", deleted, rt.Config.Retention))
		return nil
	},
}
