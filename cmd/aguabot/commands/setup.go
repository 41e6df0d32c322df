package commands

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"aguabot/lib/mailer"
	"aguabot/lib/secretbox"
	"aguabot/lib/util/serviceutil"
)

func runConfigPK() {
	err := secretbox.GenerateKey(secretbox.DefaultKeyPath)
	if err != nil {
		serviceutil.Fatal("failed to generate the encryption key", err)
	}
	fmt.Printf("Chave gerada em %s.\n", secretbox.DefaultKeyPath)
	fmt.Println("Agora execute com --config_smtp para configurar o envio de e-mail.")
}

func runConfigSMTP() {
	key, err := secretbox.LoadKey(secretbox.DefaultKeyPath)
	if err != nil {
		serviceutil.Fatal("failed to read the encryption key, run with --config_pk first", err)
	}

	in := bufio.NewReader(os.Stdin)
	for {
		host := prompt(in, "Servidor SMTP: ")
		porta := promptInt(in, "Porta: ")
		usuario := prompt(in, "Usuário: ")

		var senha string
		for {
			senha = prompt(in, "Senha: ")
			confirm := prompt(in, "Confirme a senha: ")
			if senha == confirm {
				break
			}
			fmt.Println("As senhas não conferem, tente novamente.")
		}

		fmt.Printf("\nServidor: %s\nPorta: %d\nUsuário: %s\n", host, porta, usuario)
		if !promptYesNo(in, "Confirma os dados acima? (S/N): ") {
			continue
		}

		encrypted, err := secretbox.Encrypt(key, senha)
		if err != nil {
			serviceutil.Fatal("failed to encrypt the SMTP password", err)
		}
		err = mailer.SaveConfig(mailer.DefaultConfigPath, mailer.Config{
			Host:    host,
			Porta:   porta,
			Usuario: usuario,
			Senha:   encrypted,
		})
		if err != nil {
			serviceutil.Fatal("failed to write the SMTP config", err)
		}
		fmt.Printf("Configuração gravada em %s.\n", mailer.DefaultConfigPath)
		return
	}
}

func prompt(in *bufio.Reader, label string) string {
	for {
		fmt.Print(label)
		line, err := in.ReadString('\n')
		if err != nil {
			serviceutil.Fatal("failed to read input", err)
		}
		line = strings.TrimSpace(line)
		if line != "" {
			return line
		}
	}
}

func promptInt(in *bufio.Reader, label string) int {
	for {
		raw := prompt(in, label)
		n, err := strconv.Atoi(raw)
		if err == nil && n > 0 {
			return n
		}
		fmt.Println("Informe um número de porta válido.")
	}
}

func promptYesNo(in *bufio.Reader, label string) bool {
	for {
		switch strings.ToUpper(prompt(in, label)) {
		case "S":
			return true
		case "N":
			return false
		}
	}
}
