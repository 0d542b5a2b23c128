package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/noah-isme/pandebugger-api/internal/models"
)

type booksSearchOptions struct {
	title           string
	author          string
	isbn            string
	state           string
	categoryID      int64
	includeInactive bool
	sortBy          string
	sortOrder       string
}

func newBooksCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "books",
		Short: "Inspect the book catalog",
	}
	cmd.AddCommand(newBooksSearchCommand(ctx))
	return cmd
}

func newBooksSearchCommand(ctx *commandContext) *cobra.Command {
	var opts booksSearchOptions

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search books and print them as a table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.services(cmd.Context())
			if err != nil {
				return err
			}
			filter, err := opts.filter(svc.books.ListStates())
			if err != nil {
				return err
			}
			seq, err := svc.books.SearchBooks(cmd.Context(), filter)
			if err != nil {
				return err
			}
			var books []models.Book
			for book, err := range seq {
				if err != nil {
					return err
				}
				books = append(books, book)
			}
			if len(books) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no books found")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderBooks(books))
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.title, "title", "", "Title contains")
	flags.StringVar(&opts.author, "author", "", "Author contains")
	flags.StringVar(&opts.isbn, "isbn", "", "Exact ISBN")
	flags.StringVar(&opts.state, "state", "", "Lifecycle state name or id")
	flags.Int64Var(&opts.categoryID, "category", 0, "Category id")
	flags.BoolVar(&opts.includeInactive, "all", false, "Include deactivated books")
	flags.StringVar(&opts.sortBy, "sort", "id", "Sort by id, title, author or registered_on")
	flags.StringVar(&opts.sortOrder, "order", "asc", "asc or desc")
	return cmd
}

func (o booksSearchOptions) filter(states []models.LifecycleState) (models.BookFilter, error) {
	filter := models.BookFilter{
		IncludeInactive: o.includeInactive,
		SortBy:          o.sortBy,
		SortOrder:       o.sortOrder,
	}
	if o.title != "" {
		filter.Title = &o.title
	}
	if o.author != "" {
		filter.Author = &o.author
	}
	if o.isbn != "" {
		filter.ISBN = &o.isbn
	}
	if o.categoryID != 0 {
		filter.CategoryID = &o.categoryID
	}
	if o.state != "" {
		id, err := stateID(states, o.state)
		if err != nil {
			return filter, err
		}
		filter.StateID = &id
	}
	return filter, nil
}

func stateID(states []models.LifecycleState, value string) (int64, error) {
	if id, err := strconv.ParseInt(value, 10, 64); err == nil {
		return id, nil
	}
	for _, s := range states {
		if strings.EqualFold(s.Name, value) {
			return s.ID, nil
		}
	}
	return 0, fmt.Errorf("unknown state %q", value)
}

func renderBooks(books []models.Book) string {
	headers := []string{"ID", "Title", "Author", "State", "Category", "Shelf", "Version"}
	rows := make([][]string, 0, len(books))
	for _, b := range books {
		category := "-"
		if b.CategoryName != nil {
			category = *b.CategoryName
		}
		state := b.StateName
		if !b.Active {
			state += " (inactive)"
		}
		rows = append(rows, []string{
			strconv.FormatInt(b.ID, 10),
			b.Title,
			b.Author,
			state,
			category,
			b.ShelfLocation + "/" + b.ShelfSlot,
			strconv.FormatInt(b.Version, 10),
		})
	}
	return renderTable(headers, rows, []columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight})
}
