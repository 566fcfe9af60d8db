package cli

import (
	"github.com/spf13/cobra"

	"github.com/turtacn/mbnrg-pip/internal/config"
	"github.com/turtacn/mbnrg-pip/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/mbnrg-pip/internal/infrastructure/search/milvus"
	"github.com/turtacn/mbnrg-pip/pkg/errors"
)

func NewIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Manage the training coverage collection in Milvus",
		Long: "Create or drop the vector collection that backs extrapolation\n" +
			"checks. Dropping it discards every indexed training configuration;\n" +
			"re-ingest the batches afterwards.",
	}
	cmd.AddCommand(newIndexEnsureCmd(), newIndexDropCmd())
	return cmd
}

func loadCollectionManager(cmd *cobra.Command) (*milvus.CollectionManager, *milvus.Client, string, error) {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return nil, nil, "", err
	}
	cfg, err := config.Load(cliCtx.ConfigPath)
	if err != nil {
		return nil, nil, "", errors.Wrap(err, errors.ErrCodeValidation, "load configuration")
	}
	if !cfg.Milvus.Enabled {
		return nil, nil, "", errors.Newf(errors.ErrCodeBadRequest, "milvus is disabled, enable it to manage %s", cfg.Milvus.Collection)
	}
	mc, err := milvus.NewClient(milvus.ClientConfigFrom(cfg.Milvus), cliCtx.Logger)
	if err != nil {
		return nil, nil, "", err
	}
	return milvus.NewCollectionManager(mc, milvus.CollectionConfig{}, cliCtx.Logger), mc, cfg.Milvus.Collection, nil
}

func newIndexEnsureCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ensure",
		Short: "Create, index and load the coverage collection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cm, mc, name, err := loadCollectionManager(cmd)
			if err != nil {
				return err
			}
			defer mc.Close()
			ctx, cancel := operationContext(cmd)
			defer cancel()
			if err := cm.EnsureCollection(ctx, milvus.CoverageSchema(name)); err != nil {
				return err
			}
			return PrintResult(cmd, "collection "+name+" ready")
		},
	}
}

func newIndexDropCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "drop",
		Short: "Drop the coverage collection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.InvalidParam("dropping the coverage collection needs --yes")
			}
			cm, mc, name, err := loadCollectionManager(cmd)
			if err != nil {
				return err
			}
			defer mc.Close()
			ctx, cancel := operationContext(cmd)
			defer cancel()
			if err := cm.DropCollection(ctx, name); err != nil {
				return err
			}
			commandLogger(cmd).Info("Coverage collection dropped", logging.String("collection", name))
			return PrintResult(cmd, "collection "+name+" dropped")
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the drop")
	return cmd
}
