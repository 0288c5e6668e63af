// Copyright 2022 bytetrade
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"flag"

	"billing/internal/conf"
	"billing/internal/constants"
	"billing/internal/v2/utils"

	"github.com/golang/glog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func main() {
	cmd := newBillingCommand()
	flag.Parse()
	defer glog.Flush()

	if err := cmd.Execute(); err != nil {
		glog.Fatalln(err)
	}
}

type rootOptions struct {
	configFile string
}

func (o *rootOptions) load() (*conf.Config, error) {
	return conf.Load(o.configFile)
}

func newBillingCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "billing",
		Short: "Payment status tracking for the billing views",
		Long: `billing polls the payment status service after a checkout, reports success, failure
or timeout to the hosting view and redirects back to the invoices page`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config",
		utils.GetEnvOrDefault("BILLING_CONFIG", constants.DefaultConfigFile), "path of the billing config file")
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newWatchCommand(opts))
	cmd.AddCommand(newSeedStatusCommand(opts))
	return cmd
}
