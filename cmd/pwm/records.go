package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pwm-go/internal/app"
	"pwm-go/internal/model"
)

// recordOutput is the JSON shape of a record. Password is omitted unless revealed.
type recordOutput struct {
	ID       int64     `json:"id"`
	Title    string    `json:"title"`
	Category string    `json:"category"`
	Username string    `json:"username,omitempty"`
	Email    string    `json:"email,omitempty"`
	Password string    `json:"password,omitempty"`
	URL      string    `json:"url,omitempty"`
	Notes    string    `json:"notes,omitempty"`
	Image    string    `json:"image,omitempty"`
	Sealed   bool      `json:"sealed"`
	Updated  time.Time `json:"updatedAt"`
}

func toOutput(v *model.RecordView, reveal bool) recordOutput {
	out := recordOutput{
		ID:       v.ID,
		Title:    v.Title,
		Category: v.CategoryName,
		Username: v.Username,
		Email:    v.Email,
		URL:      v.URL,
		Notes:    v.Notes,
		Image:    v.Image,
		Sealed:   v.Sealed,
		Updated:  v.UpdatedAt,
	}
	if reveal {
		out.Password = v.Password
	}
	return out
}

func toOutputs(views []*model.RecordView) []recordOutput {
	out := make([]recordOutput, len(views))
	for i, v := range views {
		out[i] = toOutput(v, false)
	}
	return out
}

func printRecords(views []*model.RecordView) {
	if len(views) == 0 {
		fmt.Println("No records found.")
		return
	}
	for _, v := range views {
		user := v.Username
		if user == "" {
			user = v.Email
		}
		if v.Sealed {
			user = "(sealed)"
		}
		fmt.Printf("#%-4d  %-24s  %-16s  %s\n", v.ID, v.Title, v.CategoryName, user)
	}
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, &model.ValidationError{Field: "id", Message: "id must be a positive number"}
	}
	return id, nil
}

// categoryID resolves a category name (case-insensitive) to its id.
func categoryID(ctx context.Context, a *app.PMApp, name string) (int64, error) {
	cats, err := a.GetCategories(ctx)
	if err != nil {
		return 0, err
	}
	for _, c := range cats {
		if strings.EqualFold(c.Name, strings.TrimSpace(name)) {
			return c.ID, nil
		}
	}
	return 0, &model.ValidationError{Field: "category", Message: fmt.Sprintf("no category named %q", name)}
}

// category command
var categoryCmd = &cobra.Command{
	Use:   "category",
	Short: "Manage categories",
}

var categoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List categories",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "GetCategories")
		if err != nil {
			return err
		}
		defer a.Close()

		cats, err := a.GetCategories(cmd.Context())
		return respond(cmd, cats, err, func() {
			for _, c := range cats {
				fmt.Printf("#%-4d  %s\n", c.ID, c.Name)
			}
		})
	},
}

var categoryAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Create a category",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "AddCategory")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := unlock(a); err != nil {
			return respond(cmd, nil, err, nil)
		}
		id, err := a.AddCategory(cmd.Context(), args[0])
		return respond(cmd, map[string]int64{"id": id}, err, func() {
			fmt.Printf("Added category #%d\n", id)
		})
	},
}

var categoryRenameCmd = &cobra.Command{
	Use:   "rename ID NAME",
	Short: "Rename a category",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}

		a, err := newApp(cmd, "UpdateCategory")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := unlock(a); err != nil {
			return respond(cmd, nil, err, nil)
		}
		err = a.UpdateCategory(cmd.Context(), id, args[1])
		return respond(cmd, nil, err, func() {
			fmt.Printf("Renamed category #%d\n", id)
		})
	},
}

var categoryRmCmd = &cobra.Command{
	Use:   "rm ID",
	Short: "Delete a category; its records are kept",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}

		a, err := newApp(cmd, "DeleteCategory")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := unlock(a); err != nil {
			return respond(cmd, nil, err, nil)
		}
		err = a.DeleteCategory(cmd.Context(), id)
		return respond(cmd, nil, err, func() {
			fmt.Printf("Deleted category #%d\n", id)
		})
	},
}

// add command
var addCmd = &cobra.Command{
	Use:   "add TITLE",
	Short: "Store a new password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "AddPassword")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := unlock(a); err != nil {
			return respond(cmd, nil, err, nil)
		}

		var secret model.SecretFields
		secret.Username, _ = cmd.Flags().GetString("username")
		secret.Email, _ = cmd.Flags().GetString("email")
		secret.URL, _ = cmd.Flags().GetString("url")
		secret.Notes, _ = cmd.Flags().GetString("notes")
		if secret.Password, err = readSecret("Password to store: "); err != nil {
			return err
		}
		defer secret.Wipe()

		var opts []model.RecordOption
		if name, _ := cmd.Flags().GetString("category"); name != "" {
			id, err := categoryID(cmd.Context(), a, name)
			if err != nil {
				return respond(cmd, nil, err, nil)
			}
			opts = append(opts, model.WithCategory(id))
		}
		if image, _ := cmd.Flags().GetString("image"); image != "" {
			opts = append(opts, model.WithImage(image))
		}

		in, err := model.NewRecordInput(args[0], secret, opts...)
		if err != nil {
			return respond(cmd, nil, err, nil)
		}
		id, err := a.AddPassword(cmd.Context(), in)
		return respond(cmd, map[string]int64{"id": id}, err, func() {
			fmt.Printf("Added record #%d\n", id)
		})
	},
}

// edit command
var editCmd = &cobra.Command{
	Use:   "edit ID",
	Short: "Change a stored password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}

		a, err := newApp(cmd, "UpdatePassword")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := unlock(a); err != nil {
			return respond(cmd, nil, err, nil)
		}
		ctx := cmd.Context()

		cur, err := a.GetPassword(ctx, id)
		if err != nil {
			return respond(cmd, nil, err, nil)
		}
		if cur.Sealed {
			return respond(cmd, nil, fmt.Errorf("record #%d: %w", id, model.ErrDecryptionFailed), nil)
		}

		in := model.RecordInput{
			CategoryID: cur.CategoryID,
			Title:      cur.Title,
			Image:      cur.Image,
			Secret:     cur.SecretFields,
		}
		defer in.Secret.Wipe()

		flags := cmd.Flags()
		for flag, field := range map[string]*string{
			"title":    &in.Title,
			"image":    &in.Image,
			"username": &in.Secret.Username,
			"email":    &in.Secret.Email,
			"url":      &in.Secret.URL,
			"notes":    &in.Secret.Notes,
		} {
			if flags.Changed(flag) {
				*field, _ = flags.GetString(flag)
			}
		}
		if flags.Changed("category") {
			name, _ := flags.GetString("category")
			if name == "" {
				in.CategoryID = nil
			} else {
				catID, err := categoryID(ctx, a, name)
				if err != nil {
					return respond(cmd, nil, err, nil)
				}
				in.CategoryID = &catID
			}
		}
		if change, _ := flags.GetBool("password"); change {
			if in.Secret.Password, err = readSecret("New password to store: "); err != nil {
				return err
			}
		}

		err = a.UpdatePassword(ctx, id, in)
		return respond(cmd, nil, err, func() {
			fmt.Printf("Updated record #%d\n", id)
		})
	},
}

// rm command
var rmCmd = &cobra.Command{
	Use:   "rm ID",
	Short: "Delete a stored password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}

		a, err := newApp(cmd, "DeletePassword")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := unlock(a); err != nil {
			return respond(cmd, nil, err, nil)
		}
		err = a.DeletePassword(cmd.Context(), id)
		return respond(cmd, nil, err, func() {
			fmt.Printf("Deleted record #%d\n", id)
		})
	},
}

// ls command
var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List stored passwords",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "GetPasswords")
		if err != nil {
			return err
		}
		defer a.Close()

		if locked, _ := cmd.Flags().GetBool("locked"); !locked {
			if err := unlock(a); err != nil {
				return respond(cmd, nil, err, nil)
			}
		}

		catID := model.AllCategories
		if name, _ := cmd.Flags().GetString("category"); name != "" {
			if catID, err = categoryID(cmd.Context(), a, name); err != nil {
				return respond(cmd, nil, err, nil)
			}
		}

		views, err := a.GetPasswords(cmd.Context(), catID)
		return respond(cmd, toOutputs(views), err, func() {
			printRecords(views)
		})
	},
}

// show command
var showCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show one stored password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		reveal, _ := cmd.Flags().GetBool("reveal")

		a, err := newApp(cmd, "GetPassword")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := unlock(a); err != nil {
			return respond(cmd, nil, err, nil)
		}

		v, err := a.GetPassword(cmd.Context(), id)
		if err != nil {
			return respond(cmd, nil, err, nil)
		}
		out := toOutput(v, reveal)
		return respond(cmd, out, nil, func() {
			fmt.Printf("Title:    %s\n", out.Title)
			fmt.Printf("Category: %s\n", out.Category)
			if out.Sealed {
				fmt.Println("(secret fields could not be decrypted)")
				return
			}
			fmt.Printf("Username: %s\n", out.Username)
			fmt.Printf("Email:    %s\n", out.Email)
			if reveal {
				fmt.Printf("Password: %s\n", out.Password)
			} else {
				fmt.Println("Password: ******** (use --reveal)")
			}
			fmt.Printf("URL:      %s\n", out.URL)
			if out.Notes != "" {
				fmt.Printf("Notes:    %s\n", out.Notes)
			}
			fmt.Printf("Updated:  %s\n", out.Updated.Local().Format("2006-01-02 15:04:05"))
		})
	},
}

// search command
var searchCmd = &cobra.Command{
	Use:   "search QUERY",
	Short: "Find stored passwords by title",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "SearchPasswords")
		if err != nil {
			return err
		}
		defer a.Close()

		views, err := a.SearchPasswords(cmd.Context(), args[0])
		return respond(cmd, toOutputs(views), err, func() {
			printRecords(views)
		})
	},
}

func addRecordFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("username", "u", "", "Username")
	cmd.Flags().StringP("email", "e", "", "Email address")
	cmd.Flags().String("url", "", "Site URL")
	cmd.Flags().String("notes", "", "Free-form notes")
	cmd.Flags().StringP("category", "c", "", "Category name")
	cmd.Flags().String("image", "", "Image reference")
}

func init() {
	// category subcommands
	categoryCmd.AddCommand(categoryListCmd)
	categoryCmd.AddCommand(categoryAddCmd)
	categoryCmd.AddCommand(categoryRenameCmd)
	categoryCmd.AddCommand(categoryRmCmd)
	rootCmd.AddCommand(categoryCmd)

	// record commands
	addRecordFlags(addCmd)
	rootCmd.AddCommand(addCmd)
	addRecordFlags(editCmd)
	editCmd.Flags().StringP("title", "t", "", "Title")
	editCmd.Flags().BoolP("password", "p", false, "Prompt for a new password")
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(rmCmd)
	lsCmd.Flags().StringP("category", "c", "", "Only list this category")
	lsCmd.Flags().Bool("locked", false, "List without unlocking; secret fields stay sealed")
	rootCmd.AddCommand(lsCmd)
	showCmd.Flags().BoolP("reveal", "r", false, "Print the password")
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(searchCmd)
}
