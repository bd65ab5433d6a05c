package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/conduit-lang/cloner/internal/cli/config"
)

// starterSchema is written next to a new cloner.yml when no schema exists
const starterSchema = `# Resources the cloner knows about. "clone" lists what a duplicate copies.
resources:
  - name: Article
    fields:
      id: {type: uuid, annotations: [primary, auto]}
      title: {type: string}
      cover: {type: string, nullable: true}
      created_at: {type: timestamp}
      updated_at: {type: timestamp}
    relationships:
      comments: {type: has_many, target: Comment, order_by: created_at}
    clone:
      files: [cover]
      relations: [comments]
  - name: Comment
    fields:
      id: {type: uuid, annotations: [primary, auto]}
      article_id: {type: uuid}
      body: {type: text}
      created_at: {type: timestamp}
      updated_at: {type: timestamp}
`

// initOptions are the answers init writes into cloner.yml
type initOptions struct {
	Driver      string `survey:"driver"`
	DSN         string `survey:"dsn"`
	Attachments string `survey:"attachments"`
	Bucket      string `survey:"bucket"`
	Port        string `survey:"port"`
}

// initFile is the layout of a generated cloner.yml
type initFile struct {
	SchemaFile       string                  `yaml:"schema_file"`
	DefaultDatastore string                  `yaml:"default_datastore"`
	Datastores       map[string]initDatabase `yaml:"datastores"`
	Attachments      initAttachments         `yaml:"attachments"`
	Server           initServer              `yaml:"server"`
}

type initDatabase struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn,omitempty"`
}

type initAttachments struct {
	Driver string  `yaml:"driver"`
	Root   string  `yaml:"root,omitempty"`
	S3     *initS3 `yaml:"s3,omitempty"`
}

type initS3 struct {
	Bucket string `yaml:"bucket"`
}

type initServer struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func newInitCommand(g *globals) *cobra.Command {
	var (
		opts        initOptions
		interactive bool
		force       bool
	)

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Create cloner.yml and a starter schema.yml",
		Long: `Create cloner.yml in dir (default: the working directory) and a starter
schema.yml when none exists.

  cloner init
  cloner init --driver postgres --dsn postgres://localhost/app
  cloner init --interactive`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}

			if interactive {
				if err := askInitOptions(&opts); err != nil {
					return err
				}
			}
			if opts.DSN == "" {
				opts.DSN = defaultDSN(opts.Driver)
			}

			file, err := buildInitFile(opts)
			if err != nil {
				return err
			}
			return writeInitFiles(cmd, dir, file, force, g.noColor)
		},
	}

	flags := cmd.Flags()
	flags.BoolVarP(&interactive, "interactive", "i", false, "prompt for every setting")
	flags.BoolVar(&force, "force", false, "overwrite an existing cloner.yml")
	flags.StringVar(&opts.Driver, "driver", "sqlite3", "primary datastore driver")
	flags.StringVar(&opts.DSN, "dsn", "", "primary datastore DSN (default depends on the driver)")
	flags.StringVar(&opts.Attachments, "attachments", "none", "attachment storage driver")
	flags.StringVar(&opts.Bucket, "bucket", "", "S3 bucket when --attachments is s3")
	flags.StringVar(&opts.Port, "port", "8080", "HTTP port of cloner serve")

	return cmd
}

func askInitOptions(opts *initOptions) error {
	questions := []*survey.Question{
		{
			Name: "driver",
			Prompt: &survey.Select{
				Message: "Primary datastore driver:",
				Options: config.DatastoreDrivers,
				Default: opts.Driver,
			},
		},
		{
			Name: "attachments",
			Prompt: &survey.Select{
				Message: "Attachment storage:",
				Options: config.AttachmentDrivers,
				Default: opts.Attachments,
			},
		},
		{
			Name:     "port",
			Prompt:   &survey.Input{Message: "HTTP port:", Default: opts.Port},
			Validate: survey.ComposeValidators(survey.Required, validatePort),
		},
	}
	if err := survey.Ask(questions, opts); err != nil {
		return err
	}

	if opts.Attachments == "s3" {
		err := survey.AskOne(&survey.Input{Message: "S3 bucket:", Default: opts.Bucket}, &opts.Bucket, survey.WithValidator(survey.Required))
		if err != nil {
			return err
		}
	}

	if opts.Driver == "memory" {
		opts.DSN = ""
		return nil
	}
	dsn := opts.DSN
	if dsn == "" {
		dsn = defaultDSN(opts.Driver)
	}
	return survey.AskOne(&survey.Input{Message: "DSN:", Default: dsn}, &opts.DSN, survey.WithValidator(survey.Required))
}

func validatePort(ans interface{}) error {
	s, _ := ans.(string)
	port, err := strconv.Atoi(s)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("port must be a number between 1 and 65535")
	}
	return nil
}

func defaultDSN(driver string) string {
	switch driver {
	case "sqlite3":
		return "file:cloner.db"
	case "postgres", "pgx":
		return "postgres://localhost:5432/app?sslmode=disable"
	default:
		return ""
	}
}

func buildInitFile(opts initOptions) (*initFile, error) {
	if !slices.Contains(config.DatastoreDrivers, opts.Driver) {
		return nil, fmt.Errorf("driver %q must be one of %s", opts.Driver, strings.Join(config.DatastoreDrivers, ", "))
	}
	if !slices.Contains(config.AttachmentDrivers, opts.Attachments) {
		return nil, fmt.Errorf("attachments %q must be one of %s", opts.Attachments, strings.Join(config.AttachmentDrivers, ", "))
	}
	if opts.Attachments == "s3" && opts.Bucket == "" {
		return nil, errors.New("--bucket is required with --attachments s3")
	}
	if err := validatePort(opts.Port); err != nil {
		return nil, err
	}
	port, _ := strconv.Atoi(opts.Port)

	file := &initFile{
		SchemaFile:       "schema.yml",
		DefaultDatastore: "primary",
		Datastores: map[string]initDatabase{
			"primary": {Driver: opts.Driver, DSN: opts.DSN},
		},
		Attachments: initAttachments{Driver: opts.Attachments},
		Server:      initServer{Host: "localhost", Port: port},
	}
	switch opts.Attachments {
	case "fs":
		file.Attachments.Root = "./attachments"
	case "s3":
		file.Attachments.S3 = &initS3{Bucket: opts.Bucket}
	}
	return file, nil
}

func writeInitFiles(cmd *cobra.Command, dir string, file *initFile, force, noColor bool) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	configPath := filepath.Join(dir, config.FileNames[0])
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	data, err := yaml.Marshal(file)
	if err != nil {
		return err
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", configPath, err)
	}

	out := cmd.OutOrStdout()
	created := color.New(color.FgGreen)
	if noColor {
		created.DisableColor()
	}
	created.Fprint(out, "  create ")
	fmt.Fprintln(out, configPath)

	schemaPath := filepath.Join(dir, file.SchemaFile)
	if _, err := os.Stat(schemaPath); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(schemaPath, []byte(starterSchema), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", schemaPath, err)
		}
		created.Fprint(out, "  create ")
		fmt.Fprintln(out, schemaPath)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Next: edit schema.yml, then run 'cloner schema check'")
	return nil
}
