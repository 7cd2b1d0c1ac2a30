package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rcliao/course-advisor/internal/model"
	"github.com/rcliao/course-advisor/internal/store"
)

func init() {
	skill := &cobra.Command{Use: "skill", Short: "Edit a student's self-reported skills"}

	add := &cobra.Command{
		Use:   "add [name]",
		Short: "Add a skill to a student",
		Args:  cobra.ExactArgs(1),
		Run:   runSkillAdd,
	}
	add.Flags().StringP("student", "s", "", "Student ID (required)")
	add.Flags().StringP("type", "t", "Hard", "Skill type: Hard or Soft")
	add.MarkFlagRequired("student")

	rm := &cobra.Command{
		Use:   "rm [name]",
		Short: "Remove a skill from a student",
		Args:  cobra.ExactArgs(1),
		Run:   runSkillRm,
	}
	rm.Flags().StringP("student", "s", "", "Student ID (required)")
	rm.MarkFlagRequired("student")

	list := &cobra.Command{
		Use:   "list",
		Short: "List the skill catalog",
		Run:   runSkillList,
	}
	list.Flags().StringP("type", "t", "", "Filter by type: Hard or Soft")

	skill.AddCommand(add, rm, list)

	cert := &cobra.Command{Use: "cert", Short: "Record or remove a student's certificates"}

	certAdd := &cobra.Command{
		Use:   "add [skill]",
		Short: "Record a certificate for a skill",
		Args:  cobra.ExactArgs(1),
		Run:   runCertAdd,
	}
	certAdd.Flags().StringP("student", "s", "", "Student ID (required)")
	certAdd.Flags().StringP("type", "t", "Hard", "Skill type: Hard or Soft")
	certAdd.Flags().String("name", "", "Certificate name")
	certAdd.MarkFlagRequired("student")

	certRm := &cobra.Command{
		Use:   "rm [certificate-id]",
		Short: "Remove a certificate",
		Args:  cobra.ExactArgs(1),
		Run:   runCertRm,
	}
	certRm.Flags().StringP("student", "s", "", "Student ID (required)")
	certRm.MarkFlagRequired("student")

	cert.AddCommand(certAdd, certRm)

	sel := &cobra.Command{
		Use:   "select [company-id]",
		Short: "Select an internship position for a student",
		Args:  cobra.ExactArgs(1),
		Run:   runSelect,
	}
	sel.Flags().StringP("student", "s", "", "Student ID (required)")
	sel.MarkFlagRequired("student")

	RootCmd.AddCommand(skill, cert, sel)
}

func parseType(cmd *cobra.Command) model.SkillType {
	raw, _ := cmd.Flags().GetString("type")
	t, ok := model.ParseSkillType(raw)
	if !ok {
		exitErr("type", fmt.Errorf("unknown skill type %q (want Hard or Soft)", raw))
	}
	return t
}

// afterWrite drops the student's cached results once a write succeeds.
func afterWrite(cmd *cobra.Command, a *app, student string) int {
	n, err := a.engine.InvalidateCache(cmd.Context(), student)
	if err != nil {
		exitErr("invalidate", err)
	}
	return n
}

func runSkillAdd(cmd *cobra.Command, args []string) {
	student, _ := cmd.Flags().GetString("student")
	t := parseType(cmd)

	a := mustOpenApp(cmd)
	defer a.Close()

	if err := a.store.AddSkill(cmd.Context(), student, t, args[0]); err != nil {
		exitErr("skill add", err)
	}
	n := afterWrite(cmd, a, student)
	fmt.Printf(`{"ok":true,"invalidated":%d}`+"\n", n)
}

func runSkillRm(cmd *cobra.Command, args []string) {
	student, _ := cmd.Flags().GetString("student")

	a := mustOpenApp(cmd)
	defer a.Close()

	if err := a.store.RemoveSkill(cmd.Context(), student, args[0]); err != nil {
		exitErr("skill rm", err)
	}
	n := afterWrite(cmd, a, student)
	fmt.Printf(`{"ok":true,"invalidated":%d}`+"\n", n)
}

func runSkillList(cmd *cobra.Command, args []string) {
	var t model.SkillType
	if raw, _ := cmd.Flags().GetString("type"); raw != "" {
		t = parseType(cmd)
	}

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	skills, err := s.SkillCatalog(cmd.Context(), t)
	if err != nil {
		exitErr("skill list", err)
	}
	printJSON(skills)
}

func runCertAdd(cmd *cobra.Command, args []string) {
	student, _ := cmd.Flags().GetString("student")
	name, _ := cmd.Flags().GetString("name")
	t := parseType(cmd)

	a := mustOpenApp(cmd)
	defer a.Close()

	id, err := a.store.AddCertificate(cmd.Context(), store.CertificateParams{
		StudentID:       student,
		SkillType:       t,
		SkillName:       args[0],
		CertificateName: name,
	})
	if err != nil {
		exitErr("cert add", err)
	}
	n := afterWrite(cmd, a, student)
	fmt.Printf(`{"ok":true,"certificate_id":%d,"invalidated":%d}`+"\n", id, n)
}

func runCertRm(cmd *cobra.Command, args []string) {
	student, _ := cmd.Flags().GetString("student")
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		exitErr("certificate id", err)
	}

	a := mustOpenApp(cmd)
	defer a.Close()

	if err := a.store.RemoveCertificate(cmd.Context(), student, id); err != nil {
		exitErr("cert rm", err)
	}
	n := afterWrite(cmd, a, student)
	fmt.Printf(`{"ok":true,"invalidated":%d}`+"\n", n)
}

func runSelect(cmd *cobra.Command, args []string) {
	student, _ := cmd.Flags().GetString("student")

	a := mustOpenApp(cmd)
	defer a.Close()

	sel, err := a.store.SelectCompany(cmd.Context(), student, args[0])
	if err != nil {
		exitErr("select", err)
	}
	afterWrite(cmd, a, student)
	printJSON(sel)
}
