package cmd

import (
	"context"
	"os"

	"github.com/alec-rabold/zipmeta/pkg/aws"
	"github.com/alec-rabold/zipmeta/pkg/zipfile"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var terms []string
var bucket, key, file string

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print the headers of a zip archive",
	Long: `Reads the archive model of a local or S3 zip archive and prints one line
	per entry: sizes, compression method, encryption, CRC and name.

	ex:
	zipmeta inspect -f archive.zip
	zipmeta inspect -f archive.zip -s plan.txt --local-headers
	zipmeta inspect -b myBucket -k myKey --charset shift_jis`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if file == "" && (bucket == "" || key == "") {
			cmd.Usage()
			os.Exit(1)
		}
		charset := viper.GetString("charset")

		var x *zipfile.Inspector
		var err error
		if file != "" {
			x, err = zipfile.NewFileInspector(file, charset)
		} else {
			client := aws.NewClient(viper.GetString("aws-region"))
			x, err = zipfile.NewS3Inspector(context.Background(), client, bucket, key, charset)
		}
		if err != nil {
			log.Errorf("error opening archive, err: %v", err)
			return err
		}
		defer func() {
			if err := x.Close(); err != nil {
				log.Errorf("error closing archive, err: %v", err)
			}
		}()

		report, err := x.Inspect(terms, viper.GetBool("local-headers"))
		if err != nil {
			log.Errorf("error reading archive headers, err: %v", err)
			return err
		}
		_, err = report.WriteTo(os.Stdout)
		return err
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.PersistentFlags().StringVarP(&file, "file", "f", "", "path of a local archive")
	inspectCmd.PersistentFlags().StringVarP(&key, "key", "k", "", "name of the S3 key (object)")
	inspectCmd.PersistentFlags().StringVarP(&bucket, "bucket", "b", "", "name of the S3 bucket")
	inspectCmd.PersistentFlags().StringSliceVarP(&terms, "search", "s", []string{}, "only list entries whose names contain one of these terms")
	inspectCmd.PersistentFlags().String("charset", "", "encoding of file names and comments (default: detect)")
	inspectCmd.PersistentFlags().Bool("local-headers", false, "also read each entry's local file header")
	inspectCmd.PersistentFlags().String("aws-region", "", "AWS region of the bucket (default: from the AWS config)")
	viper.BindPFlag("charset", inspectCmd.PersistentFlags().Lookup("charset"))
	viper.BindPFlag("local-headers", inspectCmd.PersistentFlags().Lookup("local-headers"))
	viper.BindPFlag("aws-region", inspectCmd.PersistentFlags().Lookup("aws-region"))
}
